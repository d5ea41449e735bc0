// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/canonical/maasstorage/core/devicetree"
	"github.com/canonical/maasstorage/core/sizes"
	"github.com/canonical/maasstorage/internal/categorize"
	"github.com/canonical/maasstorage/internal/command"
	"github.com/canonical/maasstorage/internal/selection"
	"github.com/canonical/maasstorage/internal/validate"
)

// PendingAction is one category's action being parameterized or
// awaiting the region's answer. Exactly one of Targets, CacheSet and
// Special describes what the action operates on.
type PendingAction struct {
	Category categorize.Category
	Action   selection.Action

	// Targets are the storage units the action operates on, resolved
	// from the selection at open time and re-resolved by key on every
	// tree change until the action is submitted.
	Targets []devicetree.Unit

	// CacheSet is set for a cache-set row action.
	CacheSet *devicetree.CacheSet

	// Special is the mount point of a machine-level special
	// filesystem, for actions on rows with no backing unit. A special
	// mount action, which has no row at all, uses the sentinel value
	// below.
	Special string

	// Params is the coerced parameter bag accumulated via SetParams.
	Params map[string]interface{}

	// Err is the last validation failure, local or regional, attached
	// for display. Cleared on the next Confirm.
	Err error

	submitted bool
	consumed  []string
}

// specialMountTarget marks a pending action that mounts a new special
// filesystem rather than operating on an existing row.
const specialMountTarget = "+"

// Pending returns the category's open action, or nil.
func (e *Engine) Pending(cat categorize.Category) *PendingAction {
	return e.pending[cat]
}

func (e *Engine) checkEditable(cat categorize.Category) error {
	if !e.cfg.CanEdit {
		return errors.Forbiddenf("machine storage is read-only")
	}
	if _, busy := e.inflight[cat]; busy {
		return errors.NotValidf("acting on %s while a command is in flight", cat)
	}
	return nil
}

// OpenAction enters the action for the category's current selection
// and resolves the selected rows into pending targets. Per-target
// capability is checked here so an action never opens over a row it
// cannot apply to; parameter validation waits for Confirm.
func (e *Engine) OpenAction(cat categorize.Category, a selection.Action) error {
	if err := e.checkEditable(cat); err != nil {
		return errors.Trace(err)
	}
	if !ActionAllowed(cat, a) {
		return errors.NotSupportedf("%s on %s rows", a, cat)
	}
	st, err := e.selections[cat].EnterAction(a)
	if err != nil {
		return errors.Trace(err)
	}
	p, err := e.resolveAction(cat, a, st.Selected)
	if err != nil {
		return errors.Trace(err)
	}
	e.selections[cat] = st
	e.pending[cat] = p
	return nil
}

// QuickAction selects one row and opens the action on it, regardless
// of the prior selection. It is how row-level buttons reach
// single-target actions.
func (e *Engine) QuickAction(cat categorize.Category, key string, a selection.Action) error {
	if err := e.checkEditable(cat); err != nil {
		return errors.Trace(err)
	}
	if !ActionAllowed(cat, a) {
		return errors.NotSupportedf("%s on %s rows", a, cat)
	}
	if !e.visibleKeys(cat).Contains(key) {
		return errors.NotFoundf("row %q in %s", key, cat)
	}
	st, err := e.selections[cat].QuickSelect(key, a)
	if err != nil {
		return errors.Trace(err)
	}
	p, err := e.resolveAction(cat, a, st.Selected)
	if err != nil {
		return errors.Trace(err)
	}
	e.selections[cat] = st
	e.pending[cat] = p
	return nil
}

// OpenSpecialMount opens the action that mounts a machine-level
// special filesystem. It targets no row; it runs under the
// filesystems category.
func (e *Engine) OpenSpecialMount() error {
	if err := e.checkEditable(categorize.Filesystems); err != nil {
		return errors.Trace(err)
	}
	e.pending[categorize.Filesystems] = &PendingAction{
		Category: categorize.Filesystems,
		Action:   selection.FormatMount,
		Special:  specialMountTarget,
		Params:   make(map[string]interface{}),
	}
	return nil
}

// resolveAction maps selected row keys onto concrete targets.
func (e *Engine) resolveAction(cat categorize.Category, a selection.Action, selected set.Strings) (*PendingAction, error) {
	p := &PendingAction{
		Category: cat,
		Action:   a,
		Params:   make(map[string]interface{}),
	}
	for _, key := range selected.SortedValues() {
		switch cat {
		case categorize.CacheSets:
			cs, err := e.tree.FindCacheSet(key)
			if err != nil {
				return nil, errors.Trace(err)
			}
			p.CacheSet = cs
		case categorize.Filesystems:
			row, ok := e.collections.FilesystemRowForKey(key)
			if !ok {
				return nil, errors.NotFoundf("filesystem row %q", key)
			}
			if row.Unit == nil {
				if a != selection.Unmount {
					return nil, errors.NotSupportedf("%s on special filesystem %s", a, row.MountPoint)
				}
				p.Special = row.MountPoint
				continue
			}
			p.Targets = append(p.Targets, row.Unit)
		default:
			row, ok := e.collections.AvailableRowForKey(key)
			if !ok {
				return nil, errors.NotFoundf("available row %q", key)
			}
			p.Targets = append(p.Targets, row.Unit)
		}
	}
	if err := e.checkCapability(p); err != nil {
		return nil, errors.Trace(err)
	}
	e.prefill(p)
	return p, nil
}

// checkCapability rejects opening an action over a target that can
// never satisfy it, before any parameters are typed.
func (e *Engine) checkCapability(p *PendingAction) error {
	switch p.Action {
	case selection.Raid, selection.VolumeGroup, selection.Bcache, selection.CacheSet:
		for _, t := range p.Targets {
			if err := validate.Composable(t); err != nil {
				return errors.Trace(err)
			}
		}
	case selection.Partition, selection.Edit:
		t := p.Targets[0]
		if t.Partition() != nil {
			return errors.NotSupportedf("%s on partition %s", p.Action, t.UnitName())
		}
		if p.Action == selection.Partition && t.BlockDevice().Kind == devicetree.VolumeGroup {
			return errors.NotSupportedf("partitioning volume group %s", t.UnitName())
		}
	case selection.LogicalVolume:
		t := p.Targets[0]
		if t.Partition() != nil || t.BlockDevice().Kind != devicetree.VolumeGroup {
			return errors.NotSupportedf("logical volume on %s", t.UnitName())
		}
	}
	return nil
}

// prefill seeds the parameter bag the way the editor opens its forms:
// size fields start at the full available space and logical volume
// names start at the group-name prefix.
func (e *Engine) prefill(p *PendingAction) {
	switch p.Action {
	case selection.Partition, selection.LogicalVolume:
		t := p.Targets[0]
		avail := sizes.AvailablePartitionSpace(e.cfg.Architecture, t.BlockDevice())
		if placeholder, err := sizes.Format(avail, sizes.Gigabytes); err == nil {
			p.Params["size"] = placeholder
			p.Params["size_unit"] = string(sizes.Gigabytes)
		}
		if p.Action == selection.LogicalVolume {
			p.Params["name"] = t.BlockDevice().Name + "-"
		}
	}
}

// SetParams merges coerced parameters into the category's open
// action, then pre-validates the fields present so the obvious
// failures surface while typing, without a round trip. The failure is
// attached to the action, not returned; Confirm revalidates in full.
// A logical volume name missing the group-name prefix is snapped back
// to the bare prefix rather than rejected.
func (e *Engine) SetParams(cat categorize.Category, raw map[string]interface{}) error {
	p := e.pending[cat]
	if p == nil || p.submitted {
		return errors.NotFoundf("open action in %s", cat)
	}
	coerced, err := coerceParams(raw)
	if err != nil {
		return errors.Trace(err)
	}
	if p.Action == selection.LogicalVolume {
		if name, ok := coerced["name"]; ok {
			snapped, _ := validate.LogicalVolumeName(p.Targets[0].BlockDevice().Name, name.(string))
			coerced["name"] = snapped
		}
	}
	for k, v := range coerced {
		p.Params[k] = v
	}
	p.Err = e.precheck(p)
	return nil
}

// precheck validates the typed fields that can fail locally.
func (e *Engine) precheck(p *PendingAction) error {
	if mp, ok := p.Params["mount_point"]; ok {
		if err := validate.MountPoint(mp.(string)); err != nil {
			return errors.Trace(err)
		}
	}
	if typed, ok := p.Params["size"]; ok && len(p.Targets) > 0 {
		switch p.Action {
		case selection.Partition, selection.LogicalVolume:
			unit := sizes.Unit(paramString(p.Params, "size_unit"))
			if unit == "" {
				unit = sizes.Gigabytes
			}
			if _, err := validate.Size(
				e.cfg.Architecture, p.Targets[0].BlockDevice(), typed.(string), unit); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// Confirm validates the category's open action, builds its request
// and applies the provisional local effect. The returned request is
// the caller's to submit; the category refuses further actions until
// Resolve reports the outcome. A local validation failure leaves the
// action open with the failure attached.
func (e *Engine) Confirm(cat categorize.Category) (command.Request, error) {
	p := e.pending[cat]
	if p == nil || p.submitted {
		return nil, errors.NotFoundf("open action in %s", cat)
	}
	if _, busy := e.inflight[cat]; busy {
		return nil, errors.NotValidf("confirming %s while a command is in flight", cat)
	}
	p.Err = nil
	res, err := e.buildRequest(p)
	if err != nil {
		p.Err = err
		return nil, errors.Trace(err)
	}
	e.provisional = e.provisional.Union(set.NewStrings(res.ConsumedKeys...))
	p.consumed = res.ConsumedKeys
	p.submitted = true
	e.inflight[cat] = res.ConsumedKeys
	e.recompute(false)
	logger.Debugf("submitting %s for %s", res.Request.Method(), e.cfg.SystemID)
	return res.Request, nil
}

func (e *Engine) buildRequest(p *PendingAction) (command.Result, error) {
	if p.CacheSet != nil {
		if err := validate.CacheSetRemoval(p.CacheSet); err != nil {
			return command.Result{}, errors.Trace(err)
		}
		return command.BuildCacheSetDelete(e.cfg.SystemID, p.CacheSet), nil
	}
	if p.Special == specialMountTarget {
		cp, err := e.specialMountParams(p)
		if err != nil {
			return command.Result{}, errors.Trace(err)
		}
		return command.BuildSpecialMount(e.cfg.SystemID, cp), nil
	}
	if p.Special != "" {
		return command.BuildSpecialUnmount(e.cfg.SystemID, p.Special), nil
	}
	cp, err := e.commandParams(p)
	if err != nil {
		return command.Result{}, errors.Trace(err)
	}
	return command.Build(e.cfg.SystemID, e.cfg.Architecture, p.Action, p.Targets, cp)
}

func (e *Engine) specialMountParams(p *PendingAction) (command.Params, error) {
	fstype := paramString(p.Params, "fstype")
	if fstype != "tmpfs" && fstype != "ramfs" {
		return command.Params{}, errors.NotValidf("special filesystem type %q", fstype)
	}
	mountPoint := paramString(p.Params, "mount_point")
	if err := validate.MountPoint(mountPoint); err != nil {
		return command.Params{}, errors.Trace(err)
	}
	if mountPoint == "" || mountPoint == "none" {
		return command.Params{}, errors.NotValidf("special filesystem without a mount point")
	}
	return command.Params{
		FSType:       fstype,
		MountPoint:   mountPoint,
		MountOptions: paramString(p.Params, "mount_options"),
	}, nil
}

// commandParams turns the coerced bag into validated builder
// parameters for a unit-targeted action.
func (e *Engine) commandParams(p *PendingAction) (command.Params, error) {
	cp := command.Params{
		Name:         paramString(p.Params, "name"),
		FSType:       paramString(p.Params, "fstype"),
		MountPoint:   paramString(p.Params, "mount_point"),
		MountOptions: paramString(p.Params, "mount_options"),
		Tags:         paramStringList(p.Params, "tags"),
		CacheMode:    paramString(p.Params, "cache_mode"),
		SpareKeys:    set.NewStrings(paramStringList(p.Params, "spares")...),
	}
	if err := validate.MountPoint(cp.MountPoint); err != nil {
		return command.Params{}, errors.Trace(err)
	}
	switch p.Action {
	case selection.Raid, selection.VolumeGroup, selection.Edit:
		selfKey := ""
		if p.Action == selection.Edit {
			selfKey = p.Targets[0].Key()
		}
		if err := validate.Name(e.tree, selfKey, cp.Name); err != nil {
			return command.Params{}, errors.Trace(err)
		}
	case selection.LogicalVolume:
		vg := p.Targets[0].BlockDevice()
		name, ok := validate.LogicalVolumeName(vg.Name, cp.Name)
		if !ok || name == vg.Name+"-" {
			return command.Params{}, errors.NotValidf("logical volume name %q", cp.Name)
		}
		if err := validate.Name(e.tree, "", cp.Name); err != nil {
			return command.Params{}, errors.Trace(err)
		}
	}
	switch p.Action {
	case selection.Partition, selection.LogicalVolume:
		unit := sizes.Unit(paramString(p.Params, "size_unit"))
		if unit == "" {
			unit = sizes.Gigabytes
		}
		resolved, err := validate.Size(
			e.cfg.Architecture, p.Targets[0].BlockDevice(),
			paramString(p.Params, "size"), unit)
		if err != nil {
			return command.Params{}, errors.Trace(err)
		}
		cp.SizeBytes = resolved
	case selection.Raid:
		cp.RaidLevel = sizes.RaidLevel(paramString(p.Params, "level"))
		for _, key := range cp.SpareKeys.Values() {
			if !targetKeys(p.Targets).Contains(key) {
				return command.Params{}, errors.NotValidf("spare %q outside the member set", key)
			}
		}
		if err := validate.RaidMembers(cp.RaidLevel, p.Targets, cp.SpareKeys.Size()); err != nil {
			return command.Params{}, errors.Trace(err)
		}
	case selection.VolumeGroup:
		if err := validate.VolumeGroupMembers(p.Targets); err != nil {
			return command.Params{}, errors.Trace(err)
		}
	case selection.Bcache:
		id, ok := paramInt(p.Params, "cache_set")
		if !ok {
			return command.Params{}, errors.NotValidf("bcache without a cache set")
		}
		if err := e.checkCacheSetID(id); err != nil {
			return command.Params{}, errors.Trace(err)
		}
		cp.CacheSetID = id
		switch cp.CacheMode {
		case "writeback", "writethrough", "writearound":
		default:
			return command.Params{}, errors.NotValidf("cache mode %q", cp.CacheMode)
		}
	}
	return cp, nil
}

func (e *Engine) checkCacheSetID(id int) error {
	for i := range e.tree.CacheSets {
		if e.tree.CacheSets[i].ID == id {
			return nil
		}
	}
	return errors.NotFoundf("cache set %d", id)
}

func targetKeys(targets []devicetree.Unit) set.Strings {
	keys := set.NewStrings()
	for _, t := range targets {
		keys.Add(t.Key())
	}
	return keys
}

// Resolve reports the category's submitted command outcome. On
// success the new tree replaces the snapshot, the action closes and
// its selection clears. On failure the provisional consumption is
// reverted and the failure is attached to the still-open action for
// another attempt. If the action was cancelled while in flight, a
// success still installs the tree and a failure is dropped.
func (e *Engine) Resolve(cat categorize.Category, tree *devicetree.Tree, cmdErr error) error {
	consumed, busy := e.inflight[cat]
	if !busy {
		return errors.NotFoundf("command in flight for %s", cat)
	}
	delete(e.inflight, cat)
	e.provisional = e.provisional.Difference(set.NewStrings(consumed...))

	p := e.pending[cat]
	if p == nil || !p.submitted {
		// Cancelled mid-flight.
		if cmdErr == nil && tree != nil {
			return errors.Trace(e.SetTree(tree))
		}
		e.recompute(false)
		return nil
	}
	if cmdErr != nil {
		logger.Debugf("%s for %s failed: %v", p.Action, e.cfg.SystemID, cmdErr)
		p.consumed = nil
		p.submitted = false
		p.Err = cmdErr
		e.recompute(false)
		return nil
	}
	delete(e.pending, cat)
	e.selections[cat] = e.selections[cat].Clear()
	if tree != nil {
		return errors.Trace(e.SetTree(tree))
	}
	e.recompute(false)
	return nil
}

// Cancel discards the category's open action and returns its
// selection to the base mode. Cancelling a submitted action does not
// recall its request; the outcome is still applied by Resolve.
func (e *Engine) Cancel(cat categorize.Category) {
	p := e.pending[cat]
	if p == nil {
		return
	}
	delete(e.pending, cat)
	e.selections[cat] = e.selections[cat].LeaveAction()
}

// refreshPendingTargets re-resolves an unsent action's targets by key
// against the current tree. It reports false when any target is gone.
func (e *Engine) refreshPendingTargets(p *PendingAction) bool {
	if p.CacheSet != nil {
		cs, err := e.tree.FindCacheSet(p.CacheSet.Key())
		if err != nil {
			return false
		}
		p.CacheSet = cs
		return true
	}
	if p.Special != "" {
		if p.Special == specialMountTarget {
			return true
		}
		for i := range e.tree.SpecialFilesystems {
			if e.tree.SpecialFilesystems[i].MountPoint == p.Special {
				return true
			}
		}
		return false
	}
	fresh := make([]devicetree.Unit, len(p.Targets))
	for i, t := range p.Targets {
		u, err := e.tree.FindUnit(t.Key())
		if err != nil {
			return false
		}
		fresh[i] = u
	}
	p.Targets = fresh
	return true
}
