package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [Group] produced a result.
var ErrAllFailed = errors.New("resilience: all backends failed")

// errCallerGone marks a failure caused by the caller's own context so that
// it does not count against a backend.
var errCallerGone = errors.New("resilience: caller context done")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds a primary backend and its fallbacks, each behind its own
// [Breaker]. Members are tried in the order they were added.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns a [Group] whose first member is primary. cfg is copied
// into every member's breaker with Name replaced by the member name.
func NewGroup[T any](primaryName string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback. It must not be called once the group is in use.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Primary returns the first member.
func (g *Group[T]) Primary() T { return g.members[0].value }

// Names returns member names in try order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.members))
	for i, m := range g.members {
		names[i] = m.name
	}
	return names
}

// Breaker returns the breaker of the named member, or nil.
func (g *Group[T]) Breaker(name string) *Breaker {
	for _, m := range g.members {
		if m.name == name {
			return m.breaker
		}
	}
	return nil
}

// Call runs fn against each member of g until one succeeds. Members whose
// breaker is open are skipped. When ctx ends, Call stops trying and returns
// the context error.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, m := range g.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(m.value)
			if err != nil && ctx.Err() != nil {
				return fmt.Errorf("%w: %w", errCallerGone, err)
			}
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, errCallerGone):
			return zero, ctx.Err()
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping backend with open circuit", "backend", m.name)
		default:
			slog.Warn("backend failed, trying next", "backend", m.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
