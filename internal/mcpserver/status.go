package mcpserver

import (
	"sort"

	"github.com/nixpig/agentd/internal/job"
)

// jobDoc is the JSON shape of a job status as returned by the status tool
// and the job:// resource.
type jobDoc struct {
	Token    string `json:"token"`
	State    string `json:"state"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stopped  bool   `json:"stopped,omitempty"`
}

func statusDoc(s job.Status) jobDoc {
	doc := jobDoc{
		Token:   s.Token,
		State:   s.State.String(),
		Stopped: s.Stopped,
	}

	if s.State == job.StateDone {
		code := s.ExitCode
		doc.ExitCode = &code
	}

	return doc
}

func statusesDoc(statuses []job.Status) []jobDoc {
	docs := make([]jobDoc, 0, len(statuses))
	for _, s := range statuses {
		docs = append(docs, statusDoc(s))
	}

	return docs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
