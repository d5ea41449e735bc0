// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package devicetree holds the in-memory model of one machine's storage
// topology, as supplied by the region. A Tree is an immutable snapshot:
// it is replaced wholesale on every refresh and never patched in place,
// so everything derived from it can be recomputed from scratch.
package devicetree

import (
	"fmt"

	"github.com/juju/errors"
)

// Tree is one machine's storage topology at a point in time.
type Tree struct {
	// SystemID identifies the machine on the region.
	SystemID string `json:"system_id"`

	// Architecture is the machine architecture (e.g. "amd64/generic").
	// Reserved-space arithmetic depends on it for ppc64el boot disks.
	Architecture string `json:"architecture"`

	BlockDevices []BlockDevice `json:"disks"`

	CacheSets []CacheSet `json:"cache_sets,omitempty"`

	// SpecialFilesystems are machine-level mounts with no backing
	// device, such as tmpfs and ramfs.
	SpecialFilesystems []Filesystem `json:"special_filesystems,omitempty"`
}

// BlockDevice is a physical disk or a software-composed device.
type BlockDevice struct {
	ID                 int         `json:"id"`
	Kind               Kind        `json:"type"`
	ParentKind         ParentKind  `json:"parent_type,omitempty"`
	Name               string      `json:"name"`
	Size               uint64      `json:"size"`
	AvailableSize      uint64      `json:"available_size"`
	UsedSize           uint64      `json:"used_size"`
	Filesystem         *Filesystem `json:"filesystem,omitempty"`
	Partitions         []Partition `json:"partitions,omitempty"`
	Tags               []string    `json:"tags,omitempty"`
	IsBoot             bool        `json:"is_boot,omitempty"`
	PartitionTableType string      `json:"partition_table_type,omitempty"`
}

// Key returns the device's stable key, used to correlate derived rows
// and selections across tree refreshes.
func (d *BlockDevice) Key() string {
	return fmt.Sprintf("%s-%d", d.Kind, d.ID)
}

// Partition is a sub-region of a block device's partition table.
type Partition struct {
	ID            int         `json:"id"`
	Name          string      `json:"name"`
	Size          uint64      `json:"size"`
	AvailableSize uint64      `json:"available_size"`
	UsedSize      uint64      `json:"used_size"`
	Filesystem    *Filesystem `json:"filesystem,omitempty"`
}

// Filesystem describes a filesystem on a device or partition, or a
// machine-level special filesystem when it has no backing unit.
type Filesystem struct {
	FSType       string `json:"fstype"`
	MountPoint   string `json:"mount_point,omitempty"`
	MountOptions string `json:"mount_options,omitempty"`

	// IsFormatFSType is true for filesystems that format the whole
	// unit (ext4, xfs, ...) and false for raw-use marker filesystems
	// such as an LVM physical volume or a RAID member.
	IsFormatFSType bool `json:"is_format_fstype,omitempty"`
}

// Mounted reports whether the filesystem has a mount point. The
// literal "none" counts: it is how swap is represented.
func (f *Filesystem) Mounted() bool {
	return f != nil && f.MountPoint != ""
}

// CacheSet is a pool of fast storage backing bcache devices.
type CacheSet struct {
	ID   int    `json:"id"`
	Name string `json:"name"`

	// Exactly one of BackingDevice and BackingPartition is set.
	BackingDevice    int `json:"backing_device,omitempty"`
	BackingPartition int `json:"backing_partition,omitempty"`

	// UsedBy names the bcache consuming the set; empty when
	// unattached.
	UsedBy string `json:"used_by,omitempty"`
}

// Key returns the cache set's stable key.
func (c *CacheSet) Key() string {
	return fmt.Sprintf("cache-set-%d", c.ID)
}

// SpecialKey returns the stable key for a machine-level special
// filesystem, which has no backing unit to key by.
func SpecialKey(f *Filesystem) string {
	return "special-" + f.MountPoint
}

// Units returns every addressable storage unit in the tree: each block
// device followed by its partitions, in tree order.
func (t *Tree) Units() []Unit {
	var units []Unit
	for i := range t.BlockDevices {
		d := &t.BlockDevices[i]
		units = append(units, DeviceUnit{d})
		for j := range d.Partitions {
			units = append(units, PartitionUnit{d, &d.Partitions[j]})
		}
	}
	return units
}

// FindUnit returns the unit with the given stable key.
func (t *Tree) FindUnit(key string) (Unit, error) {
	for _, u := range t.Units() {
		if u.Key() == key {
			return u, nil
		}
	}
	return nil, errors.NotFoundf("storage unit %q", key)
}

// FindCacheSet returns the cache set with the given stable key.
func (t *Tree) FindCacheSet(key string) (*CacheSet, error) {
	for i := range t.CacheSets {
		if t.CacheSets[i].Key() == key {
			return &t.CacheSets[i], nil
		}
	}
	return nil, errors.NotFoundf("cache set %q", key)
}

// CacheSetFor returns the cache set backed by the given unit, or nil.
func (t *Tree) CacheSetFor(u Unit) *CacheSet {
	for i := range t.CacheSets {
		c := &t.CacheSets[i]
		if p := u.Partition(); p != nil {
			if c.BackingPartition == p.ID {
				return c
			}
			continue
		}
		if c.BackingPartition == 0 && c.BackingDevice == u.BlockDevice().ID {
			return c
		}
	}
	return nil
}

// Validate checks the snapshot is structurally sound: known kinds and
// no duplicate unit keys.
func (t *Tree) Validate() error {
	if t.SystemID == "" {
		return errors.NotValidf("tree without system ID")
	}
	seen := make(map[string]bool)
	for i := range t.BlockDevices {
		d := &t.BlockDevices[i]
		if err := d.Kind.Validate(); err != nil {
			return errors.Annotatef(err, "device %q", d.Name)
		}
		if err := d.ParentKind.Validate(); err != nil {
			return errors.Annotatef(err, "device %q", d.Name)
		}
	}
	for _, u := range t.Units() {
		if seen[u.Key()] {
			return errors.NotValidf("duplicate unit key %q", u.Key())
		}
		seen[u.Key()] = true
	}
	return nil
}
