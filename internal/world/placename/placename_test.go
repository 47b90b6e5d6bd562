package placename_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/realmkeeper/internal/world/placename"
)

var neighbors = []placename.Place{
	{ID: "loc-woods", Name: "Whispering Woods"},
	{ID: "loc-forest", Name: "Forest"},
	{ID: "loc-tower", Name: "Tower of Whispers"},
	{ID: "loc-gate", Name: "The North Gate"},
}

func TestResolve(t *testing.T) {
	t.Parallel()

	r := placename.New()
	tests := []struct {
		query  string
		wantID string
		exact  bool
	}{
		{query: "Forest", wantID: "loc-forest", exact: true},
		{query: "  forest ", wantID: "loc-forest", exact: true},
		{query: "north gate", wantID: "loc-gate", exact: true},
		{query: "the whisperin woods", wantID: "loc-woods"},
		{query: "forst", wantID: "loc-forest"},
		{query: "tower of wispers", wantID: "loc-tower"},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			t.Parallel()
			m, err := r.Resolve(tc.query, neighbors)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tc.query, err)
			}
			if m.Place.ID != tc.wantID {
				t.Errorf("Resolve(%q) = %s, want %s", tc.query, m.Place.ID, tc.wantID)
			}
			if tc.exact && m.Score != 1 {
				t.Errorf("Resolve(%q) score = %f, want 1 for exact match", tc.query, m.Score)
			}
			if !tc.exact && (m.Score < 0.75 || m.Score >= 1) {
				t.Errorf("Resolve(%q) score = %f, want in [0.75, 1)", tc.query, m.Score)
			}
		})
	}
}

func TestResolve_NoMatch(t *testing.T) {
	t.Parallel()

	r := placename.New()
	for _, q := range []string{"", "   ", "dragon lair", "xyzzy"} {
		if _, err := r.Resolve(q, neighbors); !errors.Is(err, placename.ErrNoMatch) {
			t.Errorf("Resolve(%q) = %v, want ErrNoMatch", q, err)
		}
	}
	if _, err := r.Resolve("forest", nil); !errors.Is(err, placename.ErrNoMatch) {
		t.Errorf("Resolve with no places = %v, want ErrNoMatch", err)
	}
}

func TestResolve_Ambiguous(t *testing.T) {
	t.Parallel()

	r := placename.New()
	twins := []placename.Place{
		{ID: "mill-east", Name: "Mill"},
		{ID: "mill-west", Name: "Mill"},
	}
	for _, q := range []string{"mill", "mil"} {
		if _, err := r.Resolve(q, twins); !errors.Is(err, placename.ErrAmbiguous) {
			t.Errorf("Resolve(%q) = %v, want ErrAmbiguous", q, err)
		}
	}
}

func TestResolve_Thresholds(t *testing.T) {
	t.Parallel()

	strict := placename.New(placename.WithPhoneticThreshold(0.999), placename.WithFuzzyThreshold(0.999))
	if _, err := strict.Resolve("forst", neighbors); !errors.Is(err, placename.ErrNoMatch) {
		t.Errorf("strict Resolve(forst) = %v, want ErrNoMatch", err)
	}
}
