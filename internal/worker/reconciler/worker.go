// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reconciler runs one machine's storage engine on a single
// goroutine. Tree change notifications, editor operations and command
// outcomes all funnel into one loop, so the engine itself never needs
// a lock. Command submission is the only asynchronous work: each
// confirmed request is posted from its own short-lived goroutine and
// its outcome re-enters the loop as an event. Categories are
// independent, so one command per category may be outstanding.
package reconciler

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4/catacomb"

	"github.com/canonical/maasstorage/core/devicetree"
	"github.com/canonical/maasstorage/internal/categorize"
	"github.com/canonical/maasstorage/internal/command"
	"github.com/canonical/maasstorage/internal/engine"
	"github.com/canonical/maasstorage/internal/selection"
)

var logger = loggo.GetLogger("maasstorage.reconciler")

// StorageService is the remote surface the reconciler drives: a
// stream of tree snapshots for the machine and a submission path for
// mutation requests. Submit returns the post-mutation tree on
// success. Subscribe's stop function releases the stream.
type StorageService interface {
	Subscribe(ctx context.Context, systemID string) (<-chan *devicetree.Tree, func(), error)
	Submit(ctx context.Context, req command.Request) (*devicetree.Tree, error)
}

// Config holds the reconciler's dependencies.
type Config struct {
	Engine  *engine.Engine
	Service StorageService

	// SystemID names the machine to watch. It must match the
	// engine's.
	SystemID string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Engine == nil {
		return errors.NotValidf("nil Engine")
	}
	if c.Service == nil {
		return errors.NotValidf("nil Service")
	}
	if c.SystemID == "" {
		return errors.NotValidf("empty SystemID")
	}
	return nil
}

type outcome struct {
	category categorize.Category
	tree     *devicetree.Tree
	err      error
}

// Worker serializes all engine access onto its loop goroutine.
type Worker struct {
	catacomb catacomb.Catacomb
	cfg      Config

	ops     chan func(*engine.Engine)
	results chan outcome
}

// NewWorker starts a reconciler for one machine.
func NewWorker(cfg Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{
		cfg:     cfg,
		ops:     make(chan func(*engine.Engine)),
		results: make(chan outcome),
	}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill implements worker.Worker.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait implements worker.Worker.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

func (w *Worker) loop() error {
	ctx, cancel := w.scopedContext()
	defer cancel()

	changes, stop, err := w.cfg.Service.Subscribe(ctx, w.cfg.SystemID)
	if err != nil {
		return errors.Annotatef(err, "subscribing to storage for %s", w.cfg.SystemID)
	}
	defer stop()
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case tree, ok := <-changes:
			if !ok {
				return errors.Errorf("storage stream for %s closed", w.cfg.SystemID)
			}
			if err := w.cfg.Engine.SetTree(tree); err != nil {
				logger.Warningf("discarding malformed tree for %s: %v", w.cfg.SystemID, err)
			}
		case op := <-w.ops:
			op(w.cfg.Engine)
		case res := <-w.results:
			if err := w.cfg.Engine.Resolve(res.category, res.tree, res.err); err != nil {
				logger.Warningf("applying %s command outcome for %s: %v",
					res.category, w.cfg.SystemID, err)
			}
		}
	}
}

func (w *Worker) scopedContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(w.catacomb.Context(context.Background()))
}

// run executes f on the loop goroutine and waits for its result.
func (w *Worker) run(f func(*engine.Engine) error) error {
	done := make(chan error, 1)
	select {
	case w.ops <- func(e *engine.Engine) { done <- f(e) }:
	case <-w.catacomb.Dying():
		return errors.Errorf("reconciler stopping")
	}
	select {
	case err := <-done:
		return errors.Trace(err)
	case <-w.catacomb.Dying():
		return errors.Errorf("reconciler stopping")
	}
}

// Snapshot is a point-in-time copy of what the editor displays.
type Snapshot struct {
	Collections *categorize.Collections
	Selections  map[categorize.Category]selection.State
	Pending     map[categorize.Category]*engine.PendingAction
}

// Snapshot returns the engine's current display state.
func (w *Worker) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := w.run(func(e *engine.Engine) error {
		snap.Collections = e.Collections()
		snap.Selections = make(map[categorize.Category]selection.State)
		snap.Pending = make(map[categorize.Category]*engine.PendingAction)
		for _, cat := range categorize.Categories {
			snap.Selections[cat] = e.Selection(cat)
			if p := e.Pending(cat); p != nil {
				snap.Pending[cat] = p
			}
		}
		return nil
	})
	return snap, errors.Trace(err)
}

// Toggle flips one row's selection.
func (w *Worker) Toggle(cat categorize.Category, key string) error {
	return w.run(func(e *engine.Engine) error {
		return e.Toggle(cat, key)
	})
}

// SelectAll selects every visible row of the category.
func (w *Worker) SelectAll(cat categorize.Category) error {
	return w.run(func(e *engine.Engine) error {
		e.SelectAll(cat)
		return nil
	})
}

// ClearSelection empties the category's selection.
func (w *Worker) ClearSelection(cat categorize.Category) error {
	return w.run(func(e *engine.Engine) error {
		e.ClearSelection(cat)
		return nil
	})
}

// OpenAction enters an action for the category's current selection.
func (w *Worker) OpenAction(cat categorize.Category, a selection.Action) error {
	return w.run(func(e *engine.Engine) error {
		return e.OpenAction(cat, a)
	})
}

// QuickAction selects one row and opens the action on it.
func (w *Worker) QuickAction(cat categorize.Category, key string, a selection.Action) error {
	return w.run(func(e *engine.Engine) error {
		return e.QuickAction(cat, key, a)
	})
}

// OpenSpecialMount opens the machine-level special filesystem mount
// action.
func (w *Worker) OpenSpecialMount() error {
	return w.run(func(e *engine.Engine) error {
		return e.OpenSpecialMount()
	})
}

// SetParams merges parameters into the category's open action.
func (w *Worker) SetParams(cat categorize.Category, raw map[string]interface{}) error {
	return w.run(func(e *engine.Engine) error {
		return e.SetParams(cat, raw)
	})
}

// Cancel discards the category's open action.
func (w *Worker) Cancel(cat categorize.Category) error {
	return w.run(func(e *engine.Engine) error {
		e.Cancel(cat)
		return nil
	})
}

// Confirm validates and submits the category's open action. It
// returns once the request is on its way; the outcome is applied to
// the engine when the service answers. A local validation failure is
// returned directly and leaves the action open.
func (w *Worker) Confirm(cat categorize.Category) error {
	return w.run(func(e *engine.Engine) error {
		req, err := e.Confirm(cat)
		if err != nil {
			return errors.Trace(err)
		}
		w.submit(cat, req)
		return nil
	})
}

// submit posts the request from its own goroutine and feeds the
// outcome back into the loop. There is no local timeout: the service
// client owns connection liveness, and the region processes commands
// at its own pace.
func (w *Worker) submit(cat categorize.Category, req command.Request) {
	ctx, cancel := w.scopedContext()
	go func() {
		defer cancel()
		tree, err := w.cfg.Service.Submit(ctx, req)
		select {
		case w.results <- outcome{category: cat, tree: tree, err: err}:
		case <-w.catacomb.Dying():
		}
	}()
}
