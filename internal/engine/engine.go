// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package engine is the synchronous core of the storage editor. One
// Engine holds the last device tree snapshot, the collections derived
// from it, and per category a selection machine and at most one
// pending action. Categories are mutually independent: a command may
// be in flight per category, and within a category the single open
// action serializes commands by construction. The engine never starts
// goroutines and is not safe for concurrent use; the reconciler
// worker serializes every call onto a single loop and performs
// command submission on the engine's behalf.
package engine

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/kr/pretty"

	"github.com/canonical/maasstorage/core/devicetree"
	"github.com/canonical/maasstorage/internal/categorize"
	"github.com/canonical/maasstorage/internal/selection"
)

var logger = loggo.GetLogger("maasstorage.engine")

// Config holds the machine-scoped facts the engine needs.
type Config struct {
	// SystemID identifies the machine whose storage is edited.
	SystemID string

	// Architecture is the machine's architecture string, e.g.
	// "ppc64el/generic". It decides boot-disk partition overhead.
	Architecture string

	// CanEdit is false when the viewer lacks edit permission or the
	// machine is in a status where storage cannot change. A read-only
	// engine still categorizes and selects, but refuses actions.
	CanEdit bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SystemID == "" {
		return errors.NotValidf("empty system ID")
	}
	return nil
}

// categoryActions maps each selectable category to the actions its
// rows support. Used rows support nothing and have no category here.
var categoryActions = map[categorize.Category][]selection.Action{
	categorize.Available: {
		selection.Delete,
		selection.FormatMount,
		selection.Partition,
		selection.Bcache,
		selection.CacheSet,
		selection.Raid,
		selection.VolumeGroup,
		selection.LogicalVolume,
		selection.Edit,
	},
	categorize.Filesystems: {
		selection.Unmount,
		selection.Delete,
	},
	categorize.CacheSets: {
		selection.Delete,
	},
}

// ActionAllowed reports whether the category's rows support the action.
func ActionAllowed(cat categorize.Category, a selection.Action) bool {
	for _, allowed := range categoryActions[cat] {
		if allowed == a {
			return true
		}
	}
	return false
}

// Engine is the storage editor's state. Zero value is not usable; use
// New.
type Engine struct {
	cfg Config

	tree        *devicetree.Tree
	collections *categorize.Collections

	// provisional holds available-row keys consumed by in-flight
	// commands, stripped from the visible collection until the region
	// answers.
	provisional set.Strings

	selections map[categorize.Category]selection.State
	pending    map[categorize.Category]*PendingAction

	// inflight records, per category with a submitted command, the
	// provisional keys that command consumed. The entry outlives a
	// cancelled pending action so Resolve can release the keys.
	inflight map[categorize.Category][]string
}

// New returns an engine with an empty tree and empty selections.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	e := &Engine{
		cfg:         cfg,
		tree:        &devicetree.Tree{SystemID: cfg.SystemID},
		provisional: set.NewStrings(),
		selections:  make(map[categorize.Category]selection.State),
		pending:     make(map[categorize.Category]*PendingAction),
		inflight:    make(map[categorize.Category][]string),
	}
	for _, cat := range categorize.Categories {
		e.selections[cat] = selection.NewState()
	}
	e.collections = categorize.Compute(e.tree)
	return e, nil
}

// Tree returns the current snapshot.
func (e *Engine) Tree() *devicetree.Tree {
	return e.tree
}

// SetTree installs a new device tree snapshot, recomputes the derived
// collections and reconciles every category's selection against them.
// An open action whose targets all survive the recomputation stays
// open; an action with a stale target closes silently, dropping its
// pending state. Submitted actions are untouched, since their
// requests already left.
func (e *Engine) SetTree(tree *devicetree.Tree) error {
	if err := tree.Validate(); err != nil {
		return errors.Trace(err)
	}
	if tree.SystemID != e.cfg.SystemID {
		return errors.NotValidf("tree for machine %q on %q", tree.SystemID, e.cfg.SystemID)
	}
	logger.Tracef("tree for %s: %# v", e.cfg.SystemID, pretty.Formatter(tree))
	e.tree = tree
	e.recompute(false)
	for cat, p := range e.pending {
		if p.submitted {
			continue
		}
		if !e.refreshPendingTargets(p) {
			logger.Debugf("closing %s: target went away", p.Action)
			delete(e.pending, cat)
		}
	}
	return nil
}

// recompute rebuilds the collections and reconciles selections. With
// force true every category drops out of any action mode.
func (e *Engine) recompute(force bool) {
	e.collections = categorize.Compute(e.tree)
	e.provisional = e.provisional.Intersection(e.collections.KeySet(categorize.Available))
	for _, cat := range categorize.Categories {
		st, closed := e.selections[cat].Reconcile(e.visibleKeys(cat), force)
		e.selections[cat] = st
		if closed {
			e.closeUnsubmitted(cat)
		}
	}
}

// visibleKeys returns the category's row keys after provisional
// stripping.
func (e *Engine) visibleKeys(cat categorize.Category) set.Strings {
	keys := e.collections.KeySet(cat)
	if cat == categorize.Available {
		keys = keys.Difference(e.provisional)
	}
	return keys
}

// Collections returns the derived collections with provisionally
// consumed available rows stripped.
func (e *Engine) Collections() *categorize.Collections {
	if e.provisional.IsEmpty() {
		return e.collections
	}
	out := *e.collections
	out.Available = nil
	for _, r := range e.collections.Available {
		if !e.provisional.Contains(r.RowKey) {
			out.Available = append(out.Available, r)
		}
	}
	return &out
}

// Selection returns the category's current selection state.
func (e *Engine) Selection(cat categorize.Category) selection.State {
	return e.selections[cat]
}

// Toggle flips one row's selection. Toggling a row leaves any open
// action for the category, dropping its unsent pending state.
func (e *Engine) Toggle(cat categorize.Category, key string) error {
	if !e.visibleKeys(cat).Contains(key) {
		return errors.NotFoundf("row %q in %s", key, cat)
	}
	st := e.selections[cat]
	if st.InAction() {
		e.closeUnsubmitted(cat)
	}
	e.selections[cat] = st.Toggle(key)
	return nil
}

// SelectAll selects every visible row of the category.
func (e *Engine) SelectAll(cat categorize.Category) {
	if e.selections[cat].InAction() {
		e.closeUnsubmitted(cat)
	}
	e.selections[cat] = e.selections[cat].SelectAll(e.visibleKeys(cat).SortedValues())
}

// ClearSelection empties the category's selection, leaving any open
// action.
func (e *Engine) ClearSelection(cat categorize.Category) {
	if e.selections[cat].InAction() {
		e.closeUnsubmitted(cat)
	}
	e.selections[cat] = e.selections[cat].Clear()
}

// CanEnter reports whether the action could be opened for the
// category's current selection. It checks permission, category
// support, the category's in-flight command and cardinality, not
// per-target capability.
func (e *Engine) CanEnter(cat categorize.Category, a selection.Action) bool {
	if !e.cfg.CanEdit {
		return false
	}
	if _, busy := e.inflight[cat]; busy {
		return false
	}
	if !ActionAllowed(cat, a) {
		return false
	}
	return e.selections[cat].CanEnter(a)
}

func (e *Engine) closeUnsubmitted(cat categorize.Category) {
	if p, ok := e.pending[cat]; ok && !p.submitted {
		delete(e.pending, cat)
	}
}
