package store_test

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"testing"

	"github.com/nixpig/agentd/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	dir := t.TempDir()

	s, err := store.Open(dir, dir+"/logs")
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	return s
}

func TestExitStatusRecord(t *testing.T) {
	t.Run("Test absent while running", func(t *testing.T) {
		s := openTestStore(t)

		_, ok, err := s.ExitStatus("tok-1")
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if ok {
			t.Error("expected no exit-status record")
		}
	})

	t.Run("Test write then read", func(t *testing.T) {
		s := openTestStore(t)

		if err := s.WriteExitStatus("tok-1", store.ExitStatus{Code: 7}); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		status, ok, err := s.ExitStatus("tok-1")
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if !ok {
			t.Fatal("expected exit-status record to exist")
		}
		if status.Code != 7 || status.Stopped {
			t.Errorf("expected status: got '%+v', want code 7, not stopped", status)
		}
	})

	t.Run("Test stopped marker", func(t *testing.T) {
		s := openTestStore(t)

		if err := s.WriteExitStatus("tok-1", store.ExitStatus{Code: 137, Stopped: true}); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		status, ok, _ := s.ExitStatus("tok-1")
		if !ok || !status.Stopped || status.Code != 137 {
			t.Errorf("expected stopped status 137: got '%+v'", status)
		}
	})

	t.Run("Test write-once", func(t *testing.T) {
		s := openTestStore(t)

		if err := s.WriteExitStatus("tok-1", store.ExitStatus{Code: 0}); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		err := s.WriteExitStatus("tok-1", store.ExitStatus{Code: 137, Stopped: true})
		if !errors.Is(err, fs.ErrExist) {
			t.Fatalf("expected fs.ErrExist: got '%v'", err)
		}

		status, _, _ := s.ExitStatus("tok-1")
		if status.Code != 0 {
			t.Errorf("expected first write to win: got '%+v'", status)
		}
	})

	t.Run("Test single winner under concurrent writes", func(t *testing.T) {
		s := openTestStore(t)

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0

		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()

				if err := s.WriteExitStatus("tok-1", store.ExitStatus{Code: i}); err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if winners != 1 {
			t.Errorf("expected exactly one winner: got '%d'", winners)
		}
	})
}

func TestDestinationRecord(t *testing.T) {
	t.Run("Test write once then read", func(t *testing.T) {
		s := openTestStore(t)

		if err := s.WriteDestination("tok-1", "main:1.0"); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if err := s.WriteDestination("tok-1", "other:0.0"); err == nil {
			t.Error("expected second destination write to fail")
		}

		dest, err := s.Destination("tok-1")
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if dest != "main:1.0" {
			t.Errorf("expected destination: got '%s', want 'main:1.0'", dest)
		}
	})

	t.Run("Test unknown token", func(t *testing.T) {
		s := openTestStore(t)

		if _, err := s.Destination("nope"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound: got '%v'", err)
		}
	})
}

func TestReadLog(t *testing.T) {
	t.Run("Test full log", func(t *testing.T) {
		s := openTestStore(t)

		if err := s.CreateLog("tok-1"); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if err := os.WriteFile(s.LogPath("tok-1"), []byte("a\nb\nc\n"), 0o644); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		data, err := s.ReadLog("tok-1", 0)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if string(data) != "a\nb\nc\n" {
			t.Errorf("expected full log: got '%q'", data)
		}
	})

	t.Run("Test tail", func(t *testing.T) {
		s := openTestStore(t)

		if err := os.WriteFile(s.LogPath("tok-1"), []byte("a\nb\nc\n"), 0o644); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		data, err := s.ReadLog("tok-1", 2)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if string(data) != "b\nc\n" {
			t.Errorf("expected last two lines: got '%q'", data)
		}
	})

	t.Run("Test tail larger than log", func(t *testing.T) {
		s := openTestStore(t)

		if err := os.WriteFile(s.LogPath("tok-1"), []byte("a\nb\n"), 0o644); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		data, err := s.ReadLog("tok-1", 10)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if string(data) != "a\nb\n" {
			t.Errorf("expected full log: got '%q'", data)
		}
	})

	t.Run("Test unknown token", func(t *testing.T) {
		s := openTestStore(t)

		if _, err := s.ReadLog("nope", 0); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound: got '%v'", err)
		}
	})
}

func TestRemoveJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.WriteDestination("tok-1", "main:1.0"); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}
	if err := s.CreateLog("tok-1"); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if err := s.RemoveJob("tok-1"); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if s.JobExists("tok-1") {
		t.Error("expected no records to remain")
	}
}

func TestTokens(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateLog("b-running"); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}
	if err := s.WriteExitStatus("a-done", store.ExitStatus{Code: 0}); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	tokens, err := s.Tokens()
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if len(tokens) != 2 || tokens[0] != "a-done" || tokens[1] != "b-running" {
		t.Errorf("expected sorted tokens: got '%v'", tokens)
	}
}

func TestNamedTargets(t *testing.T) {
	t.Run("Test set then get", func(t *testing.T) {
		s := openTestStore(t)

		if err := s.SetTarget("default", "main:1.0"); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		dest, err := s.Target("default")
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if dest != "main:1.0" {
			t.Errorf("expected target: got '%s', want 'main:1.0'", dest)
		}
	})

	t.Run("Test unknown key", func(t *testing.T) {
		s := openTestStore(t)

		if _, err := s.Target("missing"); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected fs.ErrNotExist: got '%v'", err)
		}
	})

	t.Run("Test invalid key", func(t *testing.T) {
		s := openTestStore(t)

		if err := s.SetTarget("../escape", "x"); !errors.Is(err, store.ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey: got '%v'", err)
		}
	})

	t.Run("Test list", func(t *testing.T) {
		s := openTestStore(t)

		if err := s.SetTarget("default", "main:1.0"); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if err := s.SetTarget("worker", "other:0.0"); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		targets, err := s.Targets()
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if len(targets) != 2 || targets["default"] != "main:1.0" || targets["worker"] != "other:0.0" {
			t.Errorf("expected both targets: got '%v'", targets)
		}
	})
}
