// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package command

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/canonical/maasstorage/core/devicetree"
	"github.com/canonical/maasstorage/core/sizes"
	"github.com/canonical/maasstorage/internal/selection"
	"github.com/canonical/maasstorage/internal/validate"
)

// Params is the validated parameter bag accompanying an action.
// Optional fields left at their zero value are omitted from the
// request.
type Params struct {
	Name         string
	FSType       string
	MountPoint   string
	MountOptions string
	SizeBytes    uint64
	Tags         []string
	RaidLevel    sizes.RaidLevel
	SpareKeys    set.Strings
	CacheMode    string
	CacheSetID   int
}

// Result is a built request plus its provisional local effect: the
// available-row keys the request will consume, stripped from the
// display before the region confirms so a now-committed unit does not
// linger looking selectable.
type Result struct {
	Request      Request
	ConsumedKeys []string
}

// Build materializes the request for an action over unit targets.
// Targets are assumed validated; cardinality violations here are
// programmer errors answered defensively.
func Build(systemID, arch string, action selection.Action, targets []devicetree.Unit, p Params) (Result, error) {
	if len(targets) == 0 {
		return Result{}, errors.NotValidf("%s with no targets", action)
	}
	switch action {
	case selection.Partition:
		return buildPartition(systemID, arch, targets[0], p)
	case selection.Raid:
		return buildRaid(systemID, targets, p)
	case selection.VolumeGroup:
		return buildVolumeGroup(systemID, targets, p)
	case selection.LogicalVolume:
		return buildLogicalVolume(systemID, targets[0], p)
	case selection.Bcache:
		return buildBcache(systemID, targets[0], p)
	case selection.CacheSet:
		return buildCacheSet(systemID, targets[0])
	case selection.FormatMount:
		return buildFormatMount(systemID, targets[0], p)
	case selection.Edit:
		return buildEdit(systemID, targets[0], p)
	case selection.Delete:
		return buildDelete(systemID, targets[0])
	case selection.Unmount:
		return buildUnmount(systemID, targets[0])
	}
	return Result{}, errors.NotSupportedf("action %q", string(action))
}

// BuildCacheSetDelete materializes the removal of a cache set, which
// is addressed directly rather than through a unit.
func BuildCacheSetDelete(systemID string, cs *devicetree.CacheSet) Result {
	return Result{Request: DeleteCacheSet{SystemID: systemID, CacheSetID: cs.ID}}
}

// BuildSpecialUnmount materializes the unmount of a machine-level
// special filesystem.
func BuildSpecialUnmount(systemID, mountPoint string) Result {
	return Result{Request: UnmountSpecial{SystemID: systemID, MountPoint: mountPoint}}
}

// BuildSpecialMount materializes the mount of a machine-level special
// filesystem.
func BuildSpecialMount(systemID string, p Params) Result {
	return Result{Request: MountSpecial{
		SystemID:     systemID,
		FSType:       p.FSType,
		MountPoint:   p.MountPoint,
		MountOptions: p.MountOptions,
	}}
}

func splitIDs(units []devicetree.Unit) (blocks, partitions []int) {
	for _, u := range units {
		if part := u.Partition(); part != nil {
			partitions = append(partitions, part.ID)
			continue
		}
		blocks = append(blocks, u.BlockDevice().ID)
	}
	return blocks, partitions
}

func keysOf(units []devicetree.Unit) []string {
	keys := make([]string, len(units))
	for i, u := range units {
		keys[i] = u.Key()
	}
	return keys
}

func buildPartition(systemID, arch string, t devicetree.Unit, p Params) (Result, error) {
	if t.Partition() != nil {
		return Result{}, errors.NotValidf("partitioning a partition")
	}
	d := t.BlockDevice()
	res := Result{Request: CreatePartition{
		SystemID:      systemID,
		BlockID:       d.ID,
		PartitionSize: p.SizeBytes,
		FSType:        p.FSType,
		MountPoint:    p.MountPoint,
		MountOptions:  p.MountOptions,
	}}
	if validate.ConsumesAllSpace(arch, d, p.SizeBytes) {
		res.ConsumedKeys = []string{t.Key()}
	}
	return res, nil
}

func buildRaid(systemID string, targets []devicetree.Unit, p Params) (Result, error) {
	var active, spare []devicetree.Unit
	for _, t := range targets {
		if p.SpareKeys.Contains(t.Key()) {
			spare = append(spare, t)
		} else {
			active = append(active, t)
		}
	}
	blocks, partitions := splitIDs(active)
	spareBlocks, sparePartitions := splitIDs(spare)
	return Result{
		Request: CreateRaid{
			SystemID:        systemID,
			Name:            p.Name,
			Level:           string(p.RaidLevel),
			BlockDevices:    blocks,
			Partitions:      partitions,
			SpareDevices:    spareBlocks,
			SparePartitions: sparePartitions,
			FSType:          p.FSType,
			MountPoint:      p.MountPoint,
			MountOptions:    p.MountOptions,
		},
		ConsumedKeys: keysOf(targets),
	}, nil
}

func buildVolumeGroup(systemID string, targets []devicetree.Unit, p Params) (Result, error) {
	blocks, partitions := splitIDs(targets)
	return Result{
		Request: CreateVolumeGroup{
			SystemID:     systemID,
			Name:         p.Name,
			BlockDevices: blocks,
			Partitions:   partitions,
		},
		ConsumedKeys: keysOf(targets),
	}, nil
}

func buildLogicalVolume(systemID string, t devicetree.Unit, p Params) (Result, error) {
	d := t.BlockDevice()
	if d.Kind != devicetree.VolumeGroup || t.Partition() != nil {
		return Result{}, errors.NotValidf("logical volume on %s", t.Key())
	}
	res := Result{Request: CreateLogicalVolume{
		SystemID:      systemID,
		VolumeGroupID: d.ID,
		Name:          p.Name,
		Size:          p.SizeBytes,
	}}
	if p.SizeBytes >= d.AvailableSize || d.AvailableSize-p.SizeBytes < sizes.MinPartitionSize {
		res.ConsumedKeys = []string{t.Key()}
	}
	return res, nil
}

func buildBcache(systemID string, t devicetree.Unit, p Params) (Result, error) {
	req := CreateBcache{
		SystemID:     systemID,
		Name:         p.Name,
		CacheSetID:   p.CacheSetID,
		CacheMode:    p.CacheMode,
		FSType:       p.FSType,
		MountPoint:   p.MountPoint,
		MountOptions: p.MountOptions,
	}
	if part := t.Partition(); part != nil {
		req.PartitionID = part.ID
	} else {
		req.BlockID = t.BlockDevice().ID
	}
	return Result{Request: req, ConsumedKeys: []string{t.Key()}}, nil
}

func buildCacheSet(systemID string, t devicetree.Unit) (Result, error) {
	req := CreateCacheSet{SystemID: systemID}
	if part := t.Partition(); part != nil {
		req.PartitionID = part.ID
	} else {
		req.BlockID = t.BlockDevice().ID
	}
	return Result{Request: req, ConsumedKeys: []string{t.Key()}}, nil
}

func buildFormatMount(systemID string, t devicetree.Unit, p Params) (Result, error) {
	req := UpdateFilesystem{
		SystemID:     systemID,
		FSType:       p.FSType,
		MountPoint:   p.MountPoint,
		MountOptions: p.MountOptions,
	}
	if part := t.Partition(); part != nil {
		req.PartitionID = part.ID
	} else {
		req.BlockID = t.BlockDevice().ID
	}
	res := Result{Request: req}
	if p.MountPoint != "" {
		// Mounting moves the row out of "available" entirely.
		res.ConsumedKeys = []string{t.Key()}
	}
	return res, nil
}

func buildEdit(systemID string, t devicetree.Unit, p Params) (Result, error) {
	if t.Partition() != nil {
		return Result{}, errors.NotValidf("editing a partition")
	}
	return Result{Request: UpdateDisk{
		SystemID: systemID,
		BlockID:  t.BlockDevice().ID,
		Name:     p.Name,
		Tags:     p.Tags,
	}}, nil
}

func buildDelete(systemID string, t devicetree.Unit) (Result, error) {
	res := Result{ConsumedKeys: []string{t.Key()}}
	if part := t.Partition(); part != nil {
		res.Request = DeletePartition{SystemID: systemID, PartitionID: part.ID}
		return res, nil
	}
	d := t.BlockDevice()
	if d.Kind == devicetree.VolumeGroup {
		res.Request = DeleteVolumeGroup{SystemID: systemID, VolumeGroupID: d.ID}
		return res, nil
	}
	res.Request = DeleteDisk{SystemID: systemID, BlockID: d.ID}
	return res, nil
}

func buildUnmount(systemID string, t devicetree.Unit) (Result, error) {
	fs := t.UnitFilesystem()
	if !fs.Mounted() {
		return Result{}, errors.NotValidf("unmounting %s with nothing mounted", t.Key())
	}
	req := UpdateFilesystem{
		SystemID:   systemID,
		FSType:     fs.FSType,
		MountPoint: "",
	}
	if part := t.Partition(); part != nil {
		req.PartitionID = part.ID
	} else {
		req.BlockID = t.BlockDevice().ID
	}
	return Result{Request: req}, nil
}
