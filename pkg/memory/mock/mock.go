// Package mock provides test doubles for the memory interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	searcher := &mock.Searcher{}
//	searcher.RetrieveResult = []memory.Result{{Memory: docstore.Memory{Content: "The king died"}}}
//
//	// inject searcher into the system under test …
//
//	if got := searcher.CallCount("Retrieve"); got != 1 {
//	    t.Errorf("expected 1 Retrieve call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
	"github.com/MrWong99/realmkeeper/pkg/memory"
)

var (
	_ memory.Saver    = (*Saver)(nil)
	_ memory.Searcher = (*Searcher)(nil)
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Saver is a configurable test double for [memory.Saver].
type Saver struct {
	recorder

	// SaveID is assigned to the returned memory. Defaults to "mem-1".
	SaveID string

	// SaveErr is returned by [Saver.Save] when non-nil.
	SaveErr error
}

// Save records the call and echoes the input back as a stored memory.
func (m *Saver) Save(_ context.Context, in memory.NewMemory) (docstore.Memory, error) {
	m.record("Save", in)
	if m.SaveErr != nil {
		return docstore.Memory{}, m.SaveErr
	}
	id := m.SaveID
	if id == "" {
		id = "mem-1"
	}
	return docstore.Memory{
		ID:         id,
		CampaignID: in.CampaignID,
		Content:    in.Content,
		Type:       in.Type,
		Embedding:  in.Embedding,
		Importance: in.Importance,
		RelatedID:  in.RelatedID,
		Metadata:   in.Metadata,
	}, nil
}

// Searcher is a configurable test double for [memory.Searcher].
type Searcher struct {
	recorder

	// RetrieveResult is returned by [Searcher.Retrieve].
	// When nil, Retrieve returns an empty non-nil slice.
	RetrieveResult []memory.Result

	// RetrieveErr is returned by [Searcher.Retrieve] when non-nil.
	RetrieveErr error
}

// Retrieve records the call (with the resolved options) and returns the
// configured result, truncated to k.
func (m *Searcher) Retrieve(_ context.Context, campaignID string, embedding []float32, k int, opts ...memory.RetrieveOpt) ([]memory.Result, error) {
	m.record("Retrieve", campaignID, embedding, k, memory.ApplyRetrieveOpts(opts))
	if m.RetrieveErr != nil {
		return nil, m.RetrieveErr
	}
	out := m.RetrieveResult
	if out == nil {
		out = []memory.Result{}
	}
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}
