// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package validate holds the local pre-flight checks run before a
// mutation request may leave the client. Everything returned here is a
// NotValid error carrying the offending field, so a caller can attach
// it to the open action without a round trip to the region.
package validate

import (
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/maasstorage/core/devicetree"
	"github.com/canonical/maasstorage/core/sizes"
)

// Name checks a proposed device or partition name against every other
// device and partition name on the machine. The unit being renamed is
// excluded by key, not by name, so renaming to a unit's own current
// name stays legal.
func Name(tree *devicetree.Tree, selfKey, proposed string) error {
	if proposed == "" {
		return errors.NotValidf("empty name")
	}
	for _, u := range tree.Units() {
		if u.Key() == selfKey {
			continue
		}
		if u.UnitName() == proposed {
			return errors.NotValidf("name %q already in use", proposed)
		}
	}
	return nil
}

// LogicalVolumeName enforces that a logical volume's name begins with
// its volume group's name and a dash. A violating edit is answered
// with the reset value rather than an error: the editor snaps the
// field back to the bare prefix.
func LogicalVolumeName(vgName, proposed string) (string, bool) {
	prefix := vgName + "-"
	if strings.HasPrefix(proposed, prefix) {
		return proposed, true
	}
	return prefix, false
}

// MountPoint accepts the empty string (do not mount), the literal
// "none" (swap has no path) and absolute paths.
func MountPoint(value string) error {
	if value == "" || value == "none" {
		return nil
	}
	if !strings.HasPrefix(value, "/") {
		return errors.NotValidf("mount point %q", value)
	}
	return nil
}

// Size resolves a typed size in the given unit against the device's
// available partition space.
//
// A typed value equal to the full-available placeholder resolves to
// the exact available byte count, so no unusable remainder is left
// behind. A value over budget only by display rounding is likewise
// resolved to the exact available size; over budget beyond the unit's
// display tolerance is rejected.
func Size(arch string, d *devicetree.BlockDevice, typed string, unit sizes.Unit) (uint64, error) {
	requested, err := sizes.ParseSize(typed, unit)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if requested < sizes.MinPartitionSize {
		return 0, errors.NotValidf(
			"size %s below the %s minimum", typed, sizes.Display(sizes.MinPartitionSize))
	}
	avail := sizes.AvailablePartitionSpace(arch, d)
	placeholder, err := sizes.Format(avail, unit)
	if err != nil {
		return 0, errors.Trace(err)
	}
	normalized, err := sizes.Format(requested, unit)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if normalized == placeholder {
		return avail, nil
	}
	if requested > avail {
		requestedInUnit, err := sizes.InUnit(requested, unit)
		if err != nil {
			return 0, errors.Trace(err)
		}
		availInUnit, err := sizes.InUnit(avail, unit)
		if err != nil {
			return 0, errors.Trace(err)
		}
		if requestedInUnit > availInUnit {
			return 0, errors.NotValidf(
				"size %s exceeds the available %s", typed, sizes.Display(avail))
		}
		return avail, nil
	}
	return requested, nil
}

// ConsumesAllSpace reports whether a partition of the resolved size
// would leave the device with less free space than the smallest
// possible partition. The caller uses this to strip the device from
// "available" optimistically, before the region confirms.
func ConsumesAllSpace(arch string, d *devicetree.BlockDevice, resolved uint64) bool {
	avail := sizes.AvailablePartitionSpace(arch, d)
	if resolved >= avail {
		return true
	}
	return avail-resolved < sizes.MinPartitionSize
}

// Composable checks one prospective RAID or volume-group member: it
// must not carry an unmounted-but-formatted filesystem and must not
// itself be a volume group.
func Composable(u devicetree.Unit) error {
	if fs := u.UnitFilesystem(); fs != nil && fs.IsFormatFSType && fs.MountPoint == "" {
		return errors.NotValidf(
			"%s with an unmounted %s filesystem", u.UnitName(), fs.FSType)
	}
	if u.Partition() == nil && u.BlockDevice().Kind == devicetree.VolumeGroup {
		return errors.NotValidf("volume group %s as a member", u.UnitName())
	}
	return nil
}

// RaidMembers checks a prospective array: member composability, the
// level's minimum member count (spares included) and the spares
// policy. Partitions are acceptable members.
func RaidMembers(level sizes.RaidLevel, members []devicetree.Unit, spareCount int) error {
	min, err := sizes.MinDisks(level)
	if err != nil {
		return errors.Trace(err)
	}
	if len(members) < min {
		return errors.NotValidf(
			"%s with %d members; at least %d required", level, len(members), min)
	}
	if spareCount > 0 && !sizes.SparesAllowed(level) {
		return errors.NotValidf("%s with spares", level)
	}
	for _, m := range members {
		if err := Composable(m); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// VolumeGroupMembers checks prospective volume-group members: member
// composability, and no member may have partitions of its own.
func VolumeGroupMembers(members []devicetree.Unit) error {
	if len(members) == 0 {
		return errors.NotValidf("volume group with no members")
	}
	for _, m := range members {
		if err := Composable(m); err != nil {
			return errors.Trace(err)
		}
		if m.HasPartitions() {
			return errors.NotValidf(
				"partitioned device %s as a volume group member", m.UnitName())
		}
	}
	return nil
}

// CacheSetRemoval refuses to delete a cache set while a bcache is
// consuming it.
func CacheSetRemoval(cs *devicetree.CacheSet) error {
	if cs.UsedBy != "" {
		return errors.NotValidf("deleting cache set %s used by %s", cs.Name, cs.UsedBy)
	}
	return nil
}
