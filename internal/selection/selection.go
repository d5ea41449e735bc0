// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package selection implements the per-category selection state
// machine. States are values: every operation returns a new State,
// leaving the old one untouched, so a recomputation can always be
// replayed against the previous state.
package selection

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Mode is the machine's current state. Besides the three base modes
// driven purely by selection count, a mode exists per action.
type Mode string

const (
	None   Mode = "none"
	Single Mode = "single"
	Multi  Mode = "multi"
)

// Action is an operation on the selected rows. Entering an action is
// an explicit transition, gated by the action's cardinality.
type Action string

const (
	Delete        Action = "delete"
	Unmount       Action = "unmount"
	FormatMount   Action = "format-mount"
	Partition     Action = "partition"
	Bcache        Action = "bcache"
	CacheSet      Action = "cache-set"
	Raid          Action = "raid"
	VolumeGroup   Action = "volume-group"
	LogicalVolume Action = "logical-volume"
	Edit          Action = "edit"
)

// ActionMode is the mode entered for the given action.
func ActionMode(a Action) Mode {
	return Mode(a)
}

type cardinality struct {
	min, max int // max 0 means unbounded
}

// Single-target actions correspond to single-target requests on the
// wire; they are reached through QuickSelect. RAID and volume-group
// creation are the true bulk actions.
var actionCardinality = map[Action]cardinality{
	Delete:        {min: 1, max: 1},
	Unmount:       {min: 1, max: 1},
	FormatMount:   {min: 1, max: 1},
	Partition:     {min: 1, max: 1},
	Bcache:        {min: 1, max: 1},
	CacheSet:      {min: 1, max: 1},
	Raid:          {min: 2},
	VolumeGroup:   {min: 1},
	LogicalVolume: {min: 1, max: 1},
	Edit:          {min: 1, max: 1},
}

// State is one category's selection at a point in time.
type State struct {
	Mode     Mode
	Selected set.Strings

	// Action is set exactly when Mode is the action's mode.
	Action Action
}

// NewState returns the empty state: nothing selected, no mode.
func NewState() State {
	return State{Mode: None, Selected: set.NewStrings()}
}

// InAction reports whether an action mode is active.
func (s State) InAction() bool {
	return s.Action != ""
}

func modeForCount(n int) Mode {
	switch {
	case n == 0:
		return None
	case n == 1:
		return Single
	}
	return Multi
}

func (s State) withSelection(selected set.Strings) State {
	return State{Mode: modeForCount(selected.Size()), Selected: selected}
}

// Toggle flips one key's membership and recomputes the base mode.
// Toggling always leaves any active action.
func (s State) Toggle(key string) State {
	selected := cloneSet(s.Selected)
	if selected.Contains(key) {
		selected.Remove(key)
	} else {
		selected.Add(key)
	}
	return s.withSelection(selected)
}

// SelectAll selects every given key.
func (s State) SelectAll(keys []string) State {
	return s.withSelection(set.NewStrings(keys...))
}

// Clear empties the selection, returning to None.
func (s State) Clear() State {
	return NewState()
}

// CanEnter reports whether the action's cardinality precondition holds
// for the current selection.
func (s State) CanEnter(a Action) bool {
	card, ok := actionCardinality[a]
	if !ok {
		return false
	}
	n := s.Selected.Size()
	if n < card.min {
		return false
	}
	return card.max == 0 || n <= card.max
}

// EnterAction transitions into the action's mode. The selection is
// kept as the action's target set.
func (s State) EnterAction(a Action) (State, error) {
	card, ok := actionCardinality[a]
	if !ok {
		return s, errors.NotSupportedf("action %q", string(a))
	}
	n := s.Selected.Size()
	if n < card.min {
		return s, errors.NotValidf(
			"%s with %d selected; at least %d required", a, n, card.min)
	}
	if card.max != 0 && n > card.max {
		return s, errors.NotValidf(
			"%s with %d selected; at most %d allowed", a, n, card.max)
	}
	return State{Mode: ActionMode(a), Selected: cloneSet(s.Selected), Action: a}, nil
}

// LeaveAction returns to the base mode recomputed from the current
// selection, never to a remembered prior mode.
func (s State) LeaveAction() State {
	return s.withSelection(cloneSet(s.Selected))
}

// QuickSelect clears the selection, selects exactly the target row and
// enters the action. It is the only path into a cardinality-1 action
// from an arbitrary prior selection.
func (s State) QuickSelect(key string, a Action) (State, error) {
	next := NewState().Toggle(key)
	return next.EnterAction(a)
}

// Reconcile drops keys that no longer exist in the category's
// collection. A passive reconcile (force false) keeps an intact
// action mode open and never introduces one; when targets went stale
// the action closes silently. A forced reconcile always recomputes
// the base mode, leaving any action.
//
// The second result reports whether an active action was closed.
func (s State) Reconcile(valid set.Strings, force bool) (State, bool) {
	selected := s.Selected.Intersection(valid)
	if force {
		return s.withSelection(selected), s.InAction()
	}
	if s.InAction() {
		if selected.Size() == s.Selected.Size() {
			// Targets intact; the open action survives the
			// recomputation.
			return State{Mode: s.Mode, Selected: selected, Action: s.Action}, false
		}
		return s.withSelection(selected), true
	}
	return s.withSelection(selected), false
}

func cloneSet(s set.Strings) set.Strings {
	return set.NewStrings(s.Values()...)
}
