// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package devicetree

import (
	"fmt"
)

// Unit is the device-or-partition abstraction: anything that can carry
// a filesystem, join a RAID or volume group, or back a bcache. The two
// implementations are DeviceUnit and PartitionUnit.
type Unit interface {
	// Key returns the unit's stable key.
	Key() string

	// UnitName returns the display name.
	UnitName() string

	// UnitSize returns the unit's total size in bytes.
	UnitSize() uint64

	// FreeSize returns the size a composed device may rely on when
	// this unit becomes a member: the available size for devices,
	// the whole size for partitions.
	FreeSize() uint64

	// AvailableBytes returns the unit's remaining uncommitted space
	// as reported by the region.
	AvailableBytes() uint64

	// UnitFilesystem returns the filesystem, if any.
	UnitFilesystem() *Filesystem

	// BlockDevice returns the owning (or self) block device.
	BlockDevice() *BlockDevice

	// Partition returns the partition, or nil for whole devices.
	Partition() *Partition

	// HasPartitions reports whether the unit has child partitions.
	// Always false for partitions themselves.
	HasPartitions() bool
}

// DeviceUnit adapts a whole block device to the Unit interface.
type DeviceUnit struct {
	Dev *BlockDevice
}

var _ Unit = DeviceUnit{}

func (u DeviceUnit) Key() string                 { return u.Dev.Key() }
func (u DeviceUnit) UnitName() string            { return u.Dev.Name }
func (u DeviceUnit) UnitSize() uint64            { return u.Dev.Size }
func (u DeviceUnit) FreeSize() uint64            { return u.Dev.AvailableSize }
func (u DeviceUnit) AvailableBytes() uint64      { return u.Dev.AvailableSize }
func (u DeviceUnit) UnitFilesystem() *Filesystem { return u.Dev.Filesystem }
func (u DeviceUnit) BlockDevice() *BlockDevice   { return u.Dev }
func (u DeviceUnit) Partition() *Partition       { return nil }
func (u DeviceUnit) HasPartitions() bool         { return len(u.Dev.Partitions) > 0 }

// PartitionUnit adapts a partition, together with its owning device,
// to the Unit interface.
type PartitionUnit struct {
	Owner *BlockDevice
	Part  *Partition
}

var _ Unit = PartitionUnit{}

func (u PartitionUnit) Key() string {
	return fmt.Sprintf("partition-%d-%d", u.Owner.ID, u.Part.ID)
}

func (u PartitionUnit) UnitName() string {
	if u.Part.Name != "" {
		return u.Part.Name
	}
	return fmt.Sprintf("%s-part%d", u.Owner.Name, u.Part.ID)
}

func (u PartitionUnit) UnitSize() uint64            { return u.Part.Size }
func (u PartitionUnit) FreeSize() uint64            { return u.Part.Size }
func (u PartitionUnit) AvailableBytes() uint64      { return u.Part.AvailableSize }
func (u PartitionUnit) UnitFilesystem() *Filesystem { return u.Part.Filesystem }
func (u PartitionUnit) BlockDevice() *BlockDevice   { return u.Owner }
func (u PartitionUnit) Partition() *Partition       { return u.Part }
func (u PartitionUnit) HasPartitions() bool         { return false }
