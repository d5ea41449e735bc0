// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sizes

import (
	"github.com/juju/errors"

	"github.com/canonical/maasstorage/core/devicetree"
)

// RaidLevel is a software RAID level.
type RaidLevel string

const (
	Raid0  RaidLevel = "raid-0"
	Raid1  RaidLevel = "raid-1"
	Raid5  RaidLevel = "raid-5"
	Raid6  RaidLevel = "raid-6"
	Raid10 RaidLevel = "raid-10"
)

var raidMinDisks = map[RaidLevel]int{
	Raid0:  2,
	Raid1:  2,
	Raid5:  3,
	Raid6:  4,
	Raid10: 3,
}

// raidActiveFloor is the smallest active (non-spare) member count for
// which the level's capacity formula yields a usable array.
var raidActiveFloor = map[RaidLevel]int{
	Raid0:  2,
	Raid1:  1,
	Raid5:  2,
	Raid6:  3,
	Raid10: 2,
}

// MinDisks returns the minimum member count, spares included, the
// level needs before it can be requested at all.
func MinDisks(level RaidLevel) (int, error) {
	n, ok := raidMinDisks[level]
	if !ok {
		return 0, errors.NotValidf("RAID level %q", string(level))
	}
	return n, nil
}

// SparesAllowed reports whether the level accepts spare members.
// RAID 0 has no redundancy for a spare to restore.
func SparesAllowed(level RaidLevel) bool {
	_, ok := raidMinDisks[level]
	return ok && level != Raid0
}

// RaidCapacity returns the usable size of an array built from
// memberCount active members whose smallest usable size is
// minMemberSize. memberCount excludes spares; the minimum total
// member count (spares included) is the composition validator's
// business, not this formula's.
func RaidCapacity(level RaidLevel, minMemberSize uint64, memberCount int) (uint64, error) {
	floor, ok := raidActiveFloor[level]
	if !ok {
		return 0, errors.NotValidf("RAID level %q", string(level))
	}
	if memberCount < floor {
		return 0, errors.NotValidf(
			"%s with %d active members; at least %d required", level, memberCount, floor)
	}
	n := uint64(memberCount)
	switch level {
	case Raid0:
		return minMemberSize * n, nil
	case Raid1:
		return minMemberSize, nil
	case Raid5:
		return minMemberSize * (n - 1), nil
	case Raid6:
		return minMemberSize * (n - 2), nil
	case Raid10:
		return minMemberSize * n / 2, nil
	}
	return 0, errors.NotValidf("RAID level %q", string(level))
}

// MaxSpares returns how many of memberCount members may be flagged
// spare while keeping the level's minimum active count.
func MaxSpares(level RaidLevel, memberCount int) int {
	if !SparesAllowed(level) {
		return 0
	}
	min := raidMinDisks[level]
	if memberCount <= min {
		return 0
	}
	return memberCount - min
}

// MinMemberSize returns the smallest usable size across the given
// members, spares included: the conservative bound for capacity.
func MinMemberSize(members []devicetree.Unit) uint64 {
	var min uint64
	for i, m := range members {
		if s := m.FreeSize(); i == 0 || s < min {
			min = s
		}
	}
	return min
}
