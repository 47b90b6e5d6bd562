package narration_test

import (
	"testing"

	"github.com/MrWong99/realmkeeper/internal/narration"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
	"github.com/MrWong99/realmkeeper/pkg/memory"
)

func TestFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   *narration.Context
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "empty", in: &narration.Context{}, want: ""},
		{
			name: "memories then locations",
			in: &narration.Context{
				Memories: []memory.Result{
					{Memory: docstore.Memory{Type: "fact", Content: "The king died"}},
					{Memory: docstore.Memory{Content: "A dragon\n  was seen"}},
				},
				Locations: []narration.ScoredLocation{
					{Location: docstore.Location{Name: "Town", Type: "town", Description: "A sleepy market town."}},
				},
			},
			want: "[MEMORY]: fact - The king died\n" +
				"[MEMORY]: memory - A dragon was seen\n" +
				"[LOCATION]: Town (town) - A sleepy market town.",
		},
		{
			name: "location without type or description",
			in: &narration.Context{Locations: []narration.ScoredLocation{
				{Location: docstore.Location{Name: "Crossroads"}},
			}},
			want: "[LOCATION]: Crossroads",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := narration.Format(tc.in); got != tc.want {
				t.Errorf("Format() =\n%s\nwant\n%s", got, tc.want)
			}
		})
	}
}
