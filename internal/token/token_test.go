package token_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/nixpig/agentd/internal/token"
)

func TestTokenUniqueness(t *testing.T) {
	const n = 1000

	var mu sync.Mutex
	seen := make(map[string]struct{}, n)

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()

			tok := token.New()

			mu.Lock()
			seen[tok] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("expected %d unique tokens: got '%d'", n, len(seen))
	}
}

func TestTokenSafeCharacters(t *testing.T) {
	tok := token.New()

	if tok == "" {
		t.Fatal("expected non-empty token")
	}

	// Tokens are used as file names and tmux window names.
	for _, c := range []string{"/", ":", ".", " "} {
		if strings.Contains(tok, c) {
			t.Errorf("expected token without '%s': got '%s'", c, tok)
		}
	}
}
