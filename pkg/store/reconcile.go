package store

import "github.com/Ratio1/collection_sdk_go/pkg/collection"

// Reconcile applies one change event to a cached item list and returns the
// new list; items is never modified.
//
//   - create puts the record first, dropping any item that already has its id
//   - update replaces the item with the same id, if present
//   - delete removes the item with the same id, if present
//
// Any other action returns items unchanged. Totals are not recomputed here;
// the entry is revalidated afterwards.
func Reconcile(items []collection.Record, ev collection.ChangeEvent) []collection.Record {
	id := ev.Record.ID
	switch ev.Action {
	case collection.ActionCreate:
		out := make([]collection.Record, 0, len(items)+1)
		out = append(out, ev.Record)
		for _, it := range items {
			if it.ID != id {
				out = append(out, it)
			}
		}
		return out
	case collection.ActionUpdate:
		out := make([]collection.Record, len(items))
		for i, it := range items {
			if it.ID == id {
				out[i] = ev.Record
			} else {
				out[i] = it
			}
		}
		return out
	case collection.ActionDelete:
		out := make([]collection.Record, 0, len(items))
		for _, it := range items {
			if it.ID != id {
				out = append(out, it)
			}
		}
		return out
	default:
		return items
	}
}
