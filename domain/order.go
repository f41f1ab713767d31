package domain

// PosChange assigns a new position to one sibling.
type PosChange struct {
	ID       string
	Position int
}

// clampPosition bounds target to the valid index range of a sibling set of
// size n. Appends (inserts) may target n itself; moves may not.
func clampPosition(target, max int) int {
	if target < 0 {
		return 0
	}
	if target > max {
		return max
	}
	return target
}

// planMove relocates id within ids (sorted by position) to target and
// returns the position changes required to keep the ordering dense. The
// target is clamped to [0, len(ids)-1]. Moving to the current position
// yields no changes.
func planMove(ids []string, id string, target int) []PosChange {
	src := indexOf(ids, id)
	if src < 0 {
		return nil
	}
	target = clampPosition(target, len(ids)-1)
	if target == src {
		return nil
	}
	next := make([]string, 0, len(ids))
	next = append(next, ids[:src]...)
	next = append(next, ids[src+1:]...)
	next = append(next[:target], append([]string{id}, next[target:]...)...)
	return diffPositions(ids, next)
}

// planRemove drops id from ids and closes the gap by shifting every
// later sibling down one slot.
func planRemove(ids []string, id string) []PosChange {
	src := indexOf(ids, id)
	if src < 0 {
		return nil
	}
	changes := make([]PosChange, 0, len(ids)-src-1)
	for i := src + 1; i < len(ids); i++ {
		changes = append(changes, PosChange{ID: ids[i], Position: i - 1})
	}
	return changes
}

// planInsert opens a slot at target for newID, shifting every sibling at or
// after it up one slot. The target is clamped to [0, len(ids)] so an
// out-of-range insert becomes an append.
func planInsert(ids []string, newID string, target int) (int, []PosChange) {
	target = clampPosition(target, len(ids))
	changes := make([]PosChange, 0, len(ids)-target)
	for i := target; i < len(ids); i++ {
		changes = append(changes, PosChange{ID: ids[i], Position: i + 1})
	}
	return target, changes
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// diffPositions reports the siblings whose rank differs between the old and
// new orderings.
func diffPositions(old, next []string) []PosChange {
	oldPos := make(map[string]int, len(old))
	for i, id := range old {
		oldPos[id] = i
	}
	var changes []PosChange
	for i, id := range next {
		if p, ok := oldPos[id]; !ok || p != i {
			changes = append(changes, PosChange{ID: id, Position: i})
		}
	}
	return changes
}
