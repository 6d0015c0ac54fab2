package order

import (
	"sort"
	"strings"

	"confsite/internal/model"
)

// Plan describes the position updates that realize an index-based move.
// Changed includes only items whose position should change.
type Plan struct {
	From, To     int
	Items        []model.Item // final order, positions applied
	Changed      map[string]float64
	WindowIDs    []string // IDs re-positioned by the fallback path (in final order)
	UsedFallback bool
}

// Placements returns the full ordered write-batch for the plan.
func (p Plan) Placements() []model.Placement { return model.Placements(p.Items) }

// SortByPosition sorts items in place: position, then CreatedAt, then ID.
func SortByPosition(items []model.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return Compare(items[i], items[j]) < 0
	})
}

func Compare(a, b model.Item) int {
	if a.Position < b.Position {
		return -1
	}
	if a.Position > b.Position {
		return 1
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

// StrictlyIncreasing reports whether positions strictly increase in slice order.
func StrictlyIncreasing(items []model.Item) bool {
	for i := 1; i < len(items); i++ {
		if !(items[i-1].Position < items[i].Position) {
			return false
		}
	}
	return true
}

// Next returns the position for an item appended after items (display order).
func Next(items []model.Item) float64 {
	if len(items) == 0 {
		return Initial()
	}
	last := items[len(items)-1].Position
	if p, err := After(last); err == nil {
		return p
	}
	return last + Step
}

// Normalize returns a copy of items with strictly increasing positions. Positions
// that already increase are kept; otherwise every item is re-spaced by Step.
func Normalize(items []model.Item) []model.Item {
	out := append([]model.Item{}, items...)
	if StrictlyIncreasing(out) {
		return out
	}
	for i := range out {
		out[i].Position = float64(i+1) * Step
	}
	return out
}

// PlanMove plans positions for moving cur[from] to index to. cur must be in display order.
//
//   - Prefer changing only the moved item's position (fast path).
//   - If the neighbour bounds are unusable (ties, exhausted float gap), re-space the
//     smallest contiguous window around the destination whose outer bounds are usable.
//   - If positions elsewhere in cur were not strictly increasing, re-space everything.
func PlanMove(cur []model.Item, from, to int) (Plan, error) {
	final, err := Reorder(cur, from, to)
	if err != nil {
		return Plan{}, err
	}
	orig := map[string]float64{}
	for _, it := range cur {
		orig[it.ID] = it.Position
	}

	plan := Plan{From: from, To: to, Items: final}
	if from != to {
		movedID := final[to].ID
		existing := positionsExcluding(final, map[string]bool{movedID: true})
		if p, ok := positionBetweenNeighbors(existing, final, to); ok {
			final[to].Position = p
		} else {
			plan.UsedFallback = true
			plan.WindowIDs = rebalanceWindow(final, to, to < from)
		}
	}
	if !StrictlyIncreasing(final) {
		plan.UsedFallback = true
		plan.WindowIDs = plan.WindowIDs[:0]
		for i := range final {
			final[i].Position = float64(i+1) * Step
			plan.WindowIDs = append(plan.WindowIDs, final[i].ID)
		}
	}

	plan.Changed = map[string]float64{}
	for _, it := range final {
		if orig[it.ID] != it.Position {
			plan.Changed[it.ID] = it.Position
		}
	}
	return plan, nil
}

func positionsExcluding(items []model.Item, exclude map[string]bool) map[float64]bool {
	out := map[float64]bool{}
	for _, it := range items {
		if exclude[it.ID] {
			continue
		}
		out[it.Position] = true
	}
	return out
}

func boundsAround(final []model.Item, lo, hi int) (lower, upper Bound) {
	if lo > 0 {
		lower = At(final[lo-1].Position)
	}
	if hi+1 < len(final) {
		upper = At(final[hi+1].Position)
	}
	return lower, upper
}

// positionBetweenNeighbors returns ok=false when the immediate neighbours leave no usable gap.
func positionBetweenNeighbors(existing map[float64]bool, final []model.Item, idx int) (float64, bool) {
	lower, upper := boundsAround(final, idx, idx)
	if lower.Set && upper.Set && !(lower.Value < upper.Value) {
		return 0, false
	}
	p, err := BetweenUnique(existing, lower, upper)
	if err != nil {
		return 0, false
	}
	return p, true
}

// rebalanceWindow re-spaces the smallest window [lo, hi] containing idx whose outer bounds
// are open-ended or strictly increasing and leave room for hi-lo+1 positions. preferRight
// breaks ties between equally sized windows toward the right of idx.
func rebalanceWindow(final []model.Item, idx int, preferRight bool) []string {
	try := func(lo, hi int) bool {
		lower, upper := boundsAround(final, lo, hi)
		ps, ok := spaced(lower, upper, hi-lo+1)
		if !ok {
			return false
		}
		for i := lo; i <= hi; i++ {
			final[i].Position = ps[i-lo]
		}
		return true
	}
	ids := func(lo, hi int) []string {
		out := make([]string, 0, hi-lo+1)
		for i := lo; i <= hi; i++ {
			out = append(out, final[i].ID)
		}
		return out
	}

	for size := 1; size <= len(final); size++ {
		startMin := idx - (size - 1)
		if startMin < 0 {
			startMin = 0
		}
		startMax := idx
		if startMax+size > len(final) {
			startMax = len(final) - size
		}
		if preferRight {
			for lo := startMax; lo >= startMin; lo-- {
				if try(lo, lo+size-1) {
					return ids(lo, lo+size-1)
				}
			}
		} else {
			for lo := startMin; lo <= startMax; lo++ {
				if try(lo, lo+size-1) {
					return ids(lo, lo+size-1)
				}
			}
		}
	}
	// Unreachable: the full window has open bounds on both sides.
	return nil
}

// spaced returns n strictly increasing positions strictly inside (lower, upper).
func spaced(lower, upper Bound, n int) ([]float64, bool) {
	out := make([]float64, 0, n)
	switch {
	case lower.Set && upper.Set:
		if !(lower.Value < upper.Value) {
			return nil, false
		}
		gap := (upper.Value - lower.Value) / float64(n+1)
		prev := lower.Value
		for i := 1; i <= n; i++ {
			p := lower.Value + gap*float64(i)
			if !(prev < p && p < upper.Value) {
				return nil, false
			}
			out = append(out, p)
			prev = p
		}
	case lower.Set:
		cur := lower
		for i := 0; i < n; i++ {
			p, err := Between(cur, Bound{})
			if err != nil {
				return nil, false
			}
			out = append(out, p)
			cur = At(p)
		}
	case upper.Set:
		cur := upper
		for i := 0; i < n; i++ {
			p, err := Between(Bound{}, cur)
			if err != nil {
				return nil, false
			}
			out = append(out, p)
			cur = At(p)
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	default:
		for i := 1; i <= n; i++ {
			out = append(out, float64(i)*Step)
		}
	}
	return out, true
}

// Assign returns the write-batch for items in their given display order. When the order
// differs from the current position order by a single move, only that move is planned;
// otherwise positions are kept if they already increase and re-spaced if not.
func Assign(items []model.Item) []model.Placement {
	if StrictlyIncreasing(items) {
		return model.Placements(items)
	}
	cur := append([]model.Item{}, items...)
	SortByPosition(cur)
	if from, to, ok := singleMove(cur, items); ok {
		if plan, err := PlanMove(cur, from, to); err == nil {
			return plan.Placements()
		}
	}
	return model.Placements(Normalize(items))
}

// singleMove finds from, to such that Reorder(cur, from, to) has the ids of next.
func singleMove(cur, next []model.Item) (from, to int, ok bool) {
	if len(cur) != len(next) {
		return 0, 0, false
	}
	lo, hi := 0, len(cur)-1
	for lo < len(cur) && cur[lo].ID == next[lo].ID {
		lo++
	}
	for hi >= lo && cur[hi].ID == next[hi].ID {
		hi--
	}
	if lo >= hi {
		return 0, 0, false
	}
	for _, c := range [][2]int{{lo, hi}, {hi, lo}} {
		moved, err := Reorder(cur, c[0], c[1])
		if err != nil {
			continue
		}
		if sameOrder(moved, next) {
			return c[0], c[1], true
		}
	}
	return 0, 0, false
}

func sameOrder(a, b []model.Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
