package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing []string
		want    string
		wantErr error
	}{
		{name: "primary healthy", want: "primary"},
		{name: "primary down", failing: []string{"primary"}, want: "secondary"},
		{name: "all down", failing: []string{"primary", "secondary"}, wantErr: ErrAllFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := NewGroup("primary", "primary", BreakerConfig{MaxFailures: 3})
			g.Add("secondary", "secondary")

			got, err := Call(context.Background(), g, func(v string) (string, error) {
				if slices.Contains(tc.failing, v) {
					return "", errBackend
				}
				return v, nil
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) || !errors.Is(err, errBackend) {
					t.Fatalf("err = %v, want %v wrapping the last backend error", err, tc.wantErr)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("Call = %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestCall_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	g := NewGroup("primary", "primary", BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	g.Add("secondary", "secondary")

	var tried []string
	fn := func(v string) (string, error) {
		tried = append(tried, v)
		if v == "primary" {
			return "", errBackend
		}
		return v, nil
	}
	for range 3 {
		if _, err := Call(context.Background(), g, fn); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}

	want := []string{"primary", "secondary", "secondary", "secondary"}
	if !slices.Equal(tried, want) {
		t.Errorf("tried = %v, want %v", tried, want)
	}
	if s := g.Breaker("primary").State(); s != StateOpen {
		t.Errorf("primary breaker = %v, want open", s)
	}
}

func TestCall_CancelledContext(t *testing.T) {
	t.Parallel()

	g := NewGroup("primary", "primary", BreakerConfig{MaxFailures: 1})
	g.Add("secondary", "secondary")

	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	_, err := Call(ctx, g, func(v string) (string, error) {
		tried = append(tried, v)
		cancel()
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
	if s := g.Breaker("primary").State(); s != StateClosed {
		t.Errorf("primary breaker = %v, want closed: cancellation is not a backend failure", s)
	}
}

func TestGroup_Names(t *testing.T) {
	t.Parallel()

	g := NewGroup("a", 1, BreakerConfig{})
	g.Add("b", 2)
	if got := g.Names(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Names() = %v", got)
	}
	if g.Primary() != 1 {
		t.Errorf("Primary() = %d, want 1", g.Primary())
	}
	if g.Breaker("missing") != nil {
		t.Error("Breaker(missing) should be nil")
	}
}
