// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package devicetree

import (
	"github.com/juju/errors"
)

// Kind classifies a block device as reported by the region.
type Kind string

const (
	// Physical is a real disk attached to the machine.
	Physical Kind = "physical"

	// Virtual is a software-composed device (RAID, bcache or a
	// logical volume); ParentKind says which.
	Virtual Kind = "virtual"

	// VolumeGroup is an LVM volume group. It never carries a
	// partition table of its own.
	VolumeGroup Kind = "lvm-vg"
)

// Validate returns an error if the kind is not one the engine knows.
func (k Kind) Validate() error {
	switch k {
	case Physical, Virtual, VolumeGroup:
		return nil
	}
	return errors.NotValidf("device kind %q", string(k))
}

// ParentKind classifies what composed a virtual device.
type ParentKind string

const (
	ParentVolumeGroup ParentKind = "lvm-vg"
	ParentBcache      ParentKind = "bcache"
	ParentRaid0       ParentKind = "raid-0"
	ParentRaid1       ParentKind = "raid-1"
	ParentRaid5       ParentKind = "raid-5"
	ParentRaid6       ParentKind = "raid-6"
	ParentRaid10      ParentKind = "raid-10"
)

// IsRaid reports whether the parent is a software RAID array.
func (p ParentKind) IsRaid() bool {
	switch p {
	case ParentRaid0, ParentRaid1, ParentRaid5, ParentRaid6, ParentRaid10:
		return true
	}
	return false
}

// Validate returns an error if the parent kind is unknown. The empty
// value is valid; non-virtual devices have no parent.
func (p ParentKind) Validate() error {
	switch p {
	case "", ParentVolumeGroup, ParentBcache:
		return nil
	}
	if p.IsRaid() {
		return nil
	}
	return errors.NotValidf("parent kind %q", string(p))
}
