// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package categorize derives the storage editor's four display
// collections from a device tree snapshot. Derivation is a pure
// function of the tree: computing it twice over the same snapshot
// yields identical collections, and every unit key lands in exactly
// one of the filesystems, available and used collections. Cache sets
// get a collection of their own.
package categorize

import (
	"fmt"

	"github.com/juju/collections/set"
	"github.com/juju/collections/transform"

	"github.com/canonical/maasstorage/core/devicetree"
	"github.com/canonical/maasstorage/core/sizes"
)

// Category names one of the selectable collections. The used
// collection is display-only and carries no selection state.
type Category string

const (
	Filesystems Category = "filesystems"
	CacheSets   Category = "cache-sets"
	Available   Category = "available"
)

// Categories lists the selectable categories in display order.
var Categories = []Category{Filesystems, CacheSets, Available}

// FilesystemRow is a mounted filesystem, machine-level special
// filesystems included.
type FilesystemRow struct {
	RowKey       string
	Name         string
	FSType       string
	MountPoint   string
	MountOptions string
	Size         uint64

	// Unit is nil for special filesystems, which have no backing
	// storage unit.
	Unit devicetree.Unit
}

// CacheSetRow is a bcache cache set.
type CacheSetRow struct {
	RowKey string
	Name   string
	UsedBy string
}

// AvailableRow is a unit with consumable free space.
type AvailableRow struct {
	RowKey        string
	Name          string
	Size          uint64
	HasPartitions bool

	// UnmountedFSType is set when the unit carries a format
	// filesystem that is not mounted anywhere.
	UnmountedFSType string

	Unit devicetree.Unit
}

// UsedRow is a unit that is fully committed.
type UsedRow struct {
	RowKey        string
	Name          string
	HasPartitions bool
	UsedFor       string

	Unit devicetree.Unit
}

// Collections holds one recomputation's worth of derived rows.
type Collections struct {
	Filesystems []FilesystemRow
	CacheSets   []CacheSetRow
	Available   []AvailableRow
	Used        []UsedRow
}

// Keys returns the row keys of the given category, in display order.
func (c *Collections) Keys(cat Category) []string {
	switch cat {
	case Filesystems:
		return transform.Slice(c.Filesystems, func(r FilesystemRow) string { return r.RowKey })
	case CacheSets:
		return transform.Slice(c.CacheSets, func(r CacheSetRow) string { return r.RowKey })
	case Available:
		return transform.Slice(c.Available, func(r AvailableRow) string { return r.RowKey })
	}
	return nil
}

// KeySet returns the row keys of the given category as a set.
func (c *Collections) KeySet(cat Category) set.Strings {
	return set.NewStrings(c.Keys(cat)...)
}

// AvailableRowForKey returns the available row with the given key.
func (c *Collections) AvailableRowForKey(key string) (AvailableRow, bool) {
	for _, r := range c.Available {
		if r.RowKey == key {
			return r, true
		}
	}
	return AvailableRow{}, false
}

// FilesystemRowForKey returns the filesystem row with the given key.
func (c *Collections) FilesystemRowForKey(key string) (FilesystemRow, bool) {
	for _, r := range c.Filesystems {
		if r.RowKey == key {
			return r, true
		}
	}
	return FilesystemRow{}, false
}

// Compute derives the four collections from the tree. Precedence per
// unit: cache-set backing, then mounted filesystem, then used, then
// available.
func Compute(tree *devicetree.Tree) *Collections {
	var c Collections
	for _, cs := range tree.CacheSets {
		c.CacheSets = append(c.CacheSets, CacheSetRow{
			RowKey: cs.Key(),
			Name:   cs.Name,
			UsedBy: cs.UsedBy,
		})
	}
	for _, u := range tree.Units() {
		if tree.CacheSetFor(u) != nil {
			// The unit is consumed by its cache set; the cache
			// set row above stands in for it.
			continue
		}
		fs := u.UnitFilesystem()
		switch {
		case fs.Mounted():
			c.Filesystems = append(c.Filesystems, FilesystemRow{
				RowKey:       u.Key(),
				Name:         u.UnitName(),
				FSType:       fs.FSType,
				MountPoint:   fs.MountPoint,
				MountOptions: fs.MountOptions,
				Size:         u.UnitSize(),
				Unit:         u,
			})
		case isUsed(u):
			c.Used = append(c.Used, UsedRow{
				RowKey:        u.Key(),
				Name:          u.UnitName(),
				HasPartitions: u.HasPartitions(),
				UsedFor:       usageDescriptor(u),
				Unit:          u,
			})
		default:
			row := AvailableRow{
				RowKey:        u.Key(),
				Name:          u.UnitName(),
				Size:          u.AvailableBytes(),
				HasPartitions: u.HasPartitions(),
				Unit:          u,
			}
			if fs != nil && fs.IsFormatFSType {
				row.UnmountedFSType = fs.FSType
				row.Size = u.UnitSize()
			}
			c.Available = append(c.Available, row)
		}
	}
	for i := range tree.SpecialFilesystems {
		fs := &tree.SpecialFilesystems[i]
		c.Filesystems = append(c.Filesystems, FilesystemRow{
			RowKey:       devicetree.SpecialKey(fs),
			Name:         fs.FSType,
			FSType:       fs.FSType,
			MountPoint:   fs.MountPoint,
			MountOptions: fs.MountOptions,
		})
	}
	return &c
}

// isUsed reports whether a unit with no mounted filesystem is fully
// committed: a raw-use filesystem occupies it, or too little free
// space remains for even the smallest partition.
func isUsed(u devicetree.Unit) bool {
	if fs := u.UnitFilesystem(); fs != nil {
		return !fs.IsFormatFSType
	}
	return u.AvailableBytes() < sizes.MinPartitionSize
}

// usageDescriptor derives the human-readable usage of a used row,
// in the order of most specific knowledge first.
func usageDescriptor(u devicetree.Unit) string {
	d := u.BlockDevice()
	if fs := u.UnitFilesystem(); fs != nil && !fs.IsFormatFSType {
		return fmt.Sprintf("%s formatted filesystem", fs.FSType)
	}
	if u.Partition() == nil && u.HasPartitions() {
		return fmt.Sprintf("%s partitioned with %d partitions",
			d.PartitionTableType, len(d.Partitions))
	}
	return "no free space"
}
