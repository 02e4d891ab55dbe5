package store_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/collection_sdk_go/pkg/collection"
	"github.com/Ratio1/collection_sdk_go/pkg/store"
)

func rec(id, name string) collection.Record {
	return collection.Record{ID: id, Fields: map[string]any{"name": name}}
}

func recordIDs(items []collection.Record) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestReconcile(t *testing.T) {
	items := []collection.Record{rec("a", "Ann"), rec("b", "Bob"), rec("c", "Cid")}

	cases := []struct {
		name  string
		event collection.ChangeEvent
		want  []string
		check func(t *testing.T, out []collection.Record)
	}{
		{
			name:  "create prepends",
			event: collection.ChangeEvent{Action: collection.ActionCreate, Record: rec("d", "Dee")},
			want:  []string{"d", "a", "b", "c"},
		},
		{
			name:  "create of an existing id keeps ids unique",
			event: collection.ChangeEvent{Action: collection.ActionCreate, Record: rec("b", "Bobby")},
			want:  []string{"b", "a", "c"},
			check: func(t *testing.T, out []collection.Record) {
				assert.Equal(t, "Bobby", out[0].String("name"))
			},
		},
		{
			name:  "update replaces in place",
			event: collection.ChangeEvent{Action: collection.ActionUpdate, Record: rec("b", "Robert")},
			want:  []string{"a", "b", "c"},
			check: func(t *testing.T, out []collection.Record) {
				assert.Equal(t, "Robert", out[1].String("name"))
			},
		},
		{
			name:  "update of an absent id is a no-op",
			event: collection.ChangeEvent{Action: collection.ActionUpdate, Record: rec("z", "Zed")},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "delete removes",
			event: collection.ChangeEvent{Action: collection.ActionDelete, Record: rec("a", "")},
			want:  []string{"b", "c"},
		},
		{
			name:  "delete of an absent id is a no-op",
			event: collection.ChangeEvent{Action: collection.ActionDelete, Record: rec("z", "")},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "unknown action leaves the list alone",
			event: collection.ChangeEvent{Action: "upsert", Record: rec("z", "Zed")},
			want:  []string{"a", "b", "c"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := store.Reconcile(items, tc.event)
			assert.Equal(t, tc.want, recordIDs(out))
			if tc.check != nil {
				tc.check(t, out)
			}
			assert.Equal(t, []string{"a", "b", "c"}, recordIDs(items), "input must not change")
			assert.Equal(t, "Bob", items[1].String("name"))
		})
	}
}

func TestReconcileEmpty(t *testing.T) {
	out := store.Reconcile(nil, collection.ChangeEvent{Action: collection.ActionCreate, Record: rec("a", "Ann")})
	assert.Equal(t, []string{"a"}, recordIDs(out))
	assert.Empty(t, store.Reconcile(nil, collection.ChangeEvent{Action: collection.ActionDelete, Record: rec("a", "")}))
}

// Random event sequences never produce duplicate ids, and each action leaves
// its record where it belongs.
func TestReconcileProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	actions := []collection.Action{collection.ActionCreate, collection.ActionUpdate, collection.ActionDelete}

	for run := 0; run < 200; run++ {
		var items []collection.Record
		for step := 0; step < 30; step++ {
			id := fmt.Sprintf("r%d", rng.Intn(8))
			ev := collection.ChangeEvent{Action: actions[rng.Intn(len(actions))], Record: rec(id, fmt.Sprint(step))}

			before := len(items)
			present := containsID(items, id)
			items = store.Reconcile(items, ev)

			seen := map[string]bool{}
			for _, it := range items {
				require.False(t, seen[it.ID], "duplicate id %s after %s", it.ID, ev.Action)
				seen[it.ID] = true
			}

			switch ev.Action {
			case collection.ActionCreate:
				require.Equal(t, id, items[0].ID)
				if present {
					require.Len(t, items, before)
				} else {
					require.Len(t, items, before+1)
				}
			case collection.ActionUpdate:
				require.Equal(t, present, containsID(items, id))
				require.Len(t, items, before)
			case collection.ActionDelete:
				require.False(t, containsID(items, id))
				if present {
					require.Len(t, items, before-1)
				} else {
					require.Len(t, items, before)
				}
			}
		}
	}
}

func containsID(items []collection.Record, id string) bool {
	for _, it := range items {
		if it.ID == id {
			return true
		}
	}
	return false
}
