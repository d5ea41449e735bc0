// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package command materializes validated user intent into the mutation
// requests the storage service understands. One typed request exists
// per action kind; block-device and partition identifiers travel in
// separate fields because the two are distinct address spaces on the
// wire.
package command

import (
	"fmt"
	"sort"
	"strings"
)

// Request is a single storage mutation, ready for submission.
type Request interface {
	// Method returns the wire method name.
	Method() string
}

// ValidationError is the structured rejection the storage service
// returns: field name to human-readable messages. The engine displays
// it verbatim and does not interpret field names.
type ValidationError map[string][]string

// Error implements error.
func (e ValidationError) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = fmt.Sprintf("%s: %s", field, strings.Join(e[field], "; "))
	}
	return strings.Join(parts, ", ")
}

// CreatePartition requests a new partition on a block device.
type CreatePartition struct {
	SystemID      string `json:"system_id"`
	BlockID       int    `json:"block_id"`
	PartitionSize uint64 `json:"partition_size"`
	FSType        string `json:"fstype,omitempty"`
	MountPoint    string `json:"mount_point,omitempty"`
	MountOptions  string `json:"mount_options,omitempty"`
}

func (CreatePartition) Method() string { return "machine.create_partition" }

// CreateRaid requests a software RAID over the given members.
type CreateRaid struct {
	SystemID        string `json:"system_id"`
	Name            string `json:"name"`
	Level           string `json:"level"`
	BlockDevices    []int  `json:"block_devices,omitempty"`
	Partitions      []int  `json:"partitions,omitempty"`
	SpareDevices    []int  `json:"spare_devices,omitempty"`
	SparePartitions []int  `json:"spare_partitions,omitempty"`
	FSType          string `json:"fstype,omitempty"`
	MountPoint      string `json:"mount_point,omitempty"`
	MountOptions    string `json:"mount_options,omitempty"`
}

func (CreateRaid) Method() string { return "machine.create_raid" }

// CreateVolumeGroup requests an LVM volume group over the members.
type CreateVolumeGroup struct {
	SystemID     string `json:"system_id"`
	Name         string `json:"name"`
	BlockDevices []int  `json:"block_devices,omitempty"`
	Partitions   []int  `json:"partitions,omitempty"`
}

func (CreateVolumeGroup) Method() string { return "machine.create_volume_group" }

// CreateLogicalVolume requests a logical volume inside a volume group.
type CreateLogicalVolume struct {
	SystemID      string `json:"system_id"`
	VolumeGroupID int    `json:"volume_group_id"`
	Name          string `json:"name"`
	Size          uint64 `json:"size"`
}

func (CreateLogicalVolume) Method() string { return "machine.create_logical_volume" }

// CreateBcache requests a bcache over a backing unit and a cache set.
type CreateBcache struct {
	SystemID     string `json:"system_id"`
	Name         string `json:"name"`
	CacheSetID   int    `json:"cache_set"`
	CacheMode    string `json:"cache_mode"`
	BlockID      int    `json:"block_id,omitempty"`
	PartitionID  int    `json:"partition_id,omitempty"`
	FSType       string `json:"fstype,omitempty"`
	MountPoint   string `json:"mount_point,omitempty"`
	MountOptions string `json:"mount_options,omitempty"`
}

func (CreateBcache) Method() string { return "machine.create_bcache" }

// CreateCacheSet requests a bcache cache set on a unit.
type CreateCacheSet struct {
	SystemID    string `json:"system_id"`
	BlockID     int    `json:"block_id,omitempty"`
	PartitionID int    `json:"partition_id,omitempty"`
}

func (CreateCacheSet) Method() string { return "machine.create_cache_set" }

// UpdateFilesystem formats, mounts or unmounts a unit. MountPoint is
// always emitted: the empty value is how an unmount travels.
type UpdateFilesystem struct {
	SystemID     string `json:"system_id"`
	BlockID      int    `json:"block_id,omitempty"`
	PartitionID  int    `json:"partition_id,omitempty"`
	FSType       string `json:"fstype"`
	MountPoint   string `json:"mount_point"`
	MountOptions string `json:"mount_options,omitempty"`
}

func (UpdateFilesystem) Method() string { return "machine.update_filesystem" }

// UpdateDisk renames or retags a block device.
type UpdateDisk struct {
	SystemID string   `json:"system_id"`
	BlockID  int      `json:"block_id"`
	Name     string   `json:"name,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (UpdateDisk) Method() string { return "machine.update_disk" }

// DeletePartition removes a partition.
type DeletePartition struct {
	SystemID    string `json:"system_id"`
	PartitionID int    `json:"partition_id"`
}

func (DeletePartition) Method() string { return "machine.delete_partition" }

// DeleteDisk removes a virtual block device.
type DeleteDisk struct {
	SystemID string `json:"system_id"`
	BlockID  int    `json:"block_id"`
}

func (DeleteDisk) Method() string { return "machine.delete_disk" }

// DeleteVolumeGroup removes a volume group.
type DeleteVolumeGroup struct {
	SystemID      string `json:"system_id"`
	VolumeGroupID int    `json:"volume_group_id"`
}

func (DeleteVolumeGroup) Method() string { return "machine.delete_volume_group" }

// DeleteCacheSet removes an unattached cache set.
type DeleteCacheSet struct {
	SystemID   string `json:"system_id"`
	CacheSetID int    `json:"cache_set_id"`
}

func (DeleteCacheSet) Method() string { return "machine.delete_cache_set" }

// MountSpecial mounts a machine-level special filesystem.
type MountSpecial struct {
	SystemID     string `json:"system_id"`
	FSType       string `json:"fstype"`
	MountPoint   string `json:"mount_point"`
	MountOptions string `json:"mount_options,omitempty"`
}

func (MountSpecial) Method() string { return "machine.mount_special" }

// UnmountSpecial unmounts a machine-level special filesystem.
type UnmountSpecial struct {
	SystemID   string `json:"system_id"`
	MountPoint string `json:"mount_point"`
}

func (UnmountSpecial) Method() string { return "machine.unmount_special" }
