// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sizes holds the pure arithmetic behind the storage editor:
// unit conversion, partition alignment, reserved partition-table
// overhead and RAID capacity formulas. Nothing here does I/O.
package sizes

import (
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"

	"github.com/canonical/maasstorage/core/devicetree"
)

const (
	// PartitionAlignment is the boundary partitions are aligned to.
	PartitionAlignment uint64 = 4 * 1024 * 1024

	// MinPartitionSize is the smallest partition the region will
	// create; units with less free space than this are not worth
	// offering as available.
	MinPartitionSize uint64 = 4 * 1024 * 1024

	// Space reserved when a device gets its first partition table.
	tableHeaderSpace uint64 = 4 * 1024 * 1024
	tableFooterSpace uint64 = 1 * 1024 * 1024

	// prepPartitionSize is the PReP boot partition required on
	// ppc64el boot disks.
	prepPartitionSize uint64 = 8 * 1024 * 1024
)

// Unit is a display size unit. Units are SI (1000-based), matching
// what the region reports and the editor displays.
type Unit string

const (
	Bytes     Unit = "B"
	Kilobytes Unit = "KB"
	Megabytes Unit = "MB"
	Gigabytes Unit = "GB"
	Terabytes Unit = "TB"
)

var unitMultipliers = map[Unit]uint64{
	Bytes:     1,
	Kilobytes: 1000,
	Megabytes: 1000 * 1000,
	Gigabytes: 1000 * 1000 * 1000,
	Terabytes: 1000 * 1000 * 1000 * 1000,
}

// Multiplier returns the number of bytes in one of the unit.
func (u Unit) Multiplier() (uint64, error) {
	m, ok := unitMultipliers[u]
	if !ok {
		return 0, errors.NotValidf("size unit %q", string(u))
	}
	return m, nil
}

// ParseSize converts a typed value in the given unit to bytes.
func ParseSize(value string, unit Unit) (uint64, error) {
	m, err := unit.Multiplier()
	if err != nil {
		return 0, errors.Trace(err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.NotValidf("size %q", value)
	}
	if v < 0 {
		return 0, errors.NotValidf("negative size %q", value)
	}
	return uint64(math.Round(v * float64(m))), nil
}

// InUnit expresses a byte count in the given unit, rounded to the
// editor's display precision (two decimal places).
func InUnit(bytes uint64, unit Unit) (float64, error) {
	m, err := unit.Multiplier()
	if err != nil {
		return 0, errors.Trace(err)
	}
	v := float64(bytes) / float64(m)
	return math.Round(v*100) / 100, nil
}

// Format renders a byte count in the given unit the way the editor
// displays it, with trailing zeros trimmed.
func Format(bytes uint64, unit Unit) (string, error) {
	v, err := InUnit(bytes, unit)
	if err != nil {
		return "", errors.Trace(err)
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

// Display renders a byte count with an automatically chosen SI unit,
// e.g. "100 GB".
func Display(bytes uint64) string {
	return humanize.Bytes(bytes)
}

// AlignDown rounds bytes down to a multiple of alignment.
func AlignDown(bytes, alignment uint64) uint64 {
	if alignment == 0 {
		return bytes
	}
	return bytes - bytes%alignment
}

// ReservedOverhead returns the bytes that creating the first partition
// on the device would consume for table bookkeeping. Devices that
// already have a partition table have paid it.
func ReservedOverhead(arch string, d *devicetree.BlockDevice) uint64 {
	if d.PartitionTableType != "" {
		return 0
	}
	if d.Kind == devicetree.VolumeGroup {
		// Logical volumes live in extents, not a partition table.
		return 0
	}
	overhead := tableHeaderSpace + tableFooterSpace
	if strings.HasPrefix(arch, "ppc64el") && d.IsBoot {
		overhead += prepPartitionSize
	}
	return overhead
}

// AvailablePartitionSpace returns the aligned number of bytes usable
// for a new partition on the device.
func AvailablePartitionSpace(arch string, d *devicetree.BlockDevice) uint64 {
	overhead := ReservedOverhead(arch, d)
	if d.AvailableSize < overhead {
		return 0
	}
	return AlignDown(d.AvailableSize-overhead, PartitionAlignment)
}
