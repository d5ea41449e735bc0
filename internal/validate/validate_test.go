// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package validate_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/maasstorage/core/devicetree"
	"github.com/canonical/maasstorage/core/sizes"
	"github.com/canonical/maasstorage/internal/validate"
)

type validateSuite struct{}

var _ = gc.Suite(&validateSuite{})

const (
	mib = 1024 * 1024
	gb  = 1000 * 1000 * 1000
)

func namesTree() *devicetree.Tree {
	return &devicetree.Tree{
		SystemID: "4y3h7n",
		BlockDevices: []devicetree.BlockDevice{{
			ID: 1, Kind: devicetree.Physical, Name: "sda",
			Partitions: []devicetree.Partition{{ID: 10, Name: "sda-part1"}},
		}, {
			ID: 2, Kind: devicetree.Physical, Name: "sdb",
		}},
	}
}

func (s *validateSuite) TestNameUniqueness(c *gc.C) {
	tree := namesTree()
	c.Assert(validate.Name(tree, "physical-2", "md0"), jc.ErrorIsNil)
	c.Assert(validate.Name(tree, "physical-2", "sda"),
		gc.ErrorMatches, `name "sda" already in use not valid`)
	c.Assert(validate.Name(tree, "physical-2", "sda-part1"),
		gc.ErrorMatches, `name "sda-part1" already in use not valid`)
	// Renaming to one's own current name is fine.
	c.Assert(validate.Name(tree, "physical-2", "sdb"), jc.ErrorIsNil)
	c.Assert(validate.Name(tree, "physical-2", ""),
		gc.ErrorMatches, `empty name not valid`)
}

func (s *validateSuite) TestLogicalVolumeName(c *gc.C) {
	name, ok := validate.LogicalVolumeName("vg0", "vg0-lv1")
	c.Assert(ok, jc.IsTrue)
	c.Assert(name, gc.Equals, "vg0-lv1")

	// A rename that drops the prefix snaps back to the bare prefix.
	name, ok = validate.LogicalVolumeName("vg0", "other")
	c.Assert(ok, jc.IsFalse)
	c.Assert(name, gc.Equals, "vg0-")
}

func (s *validateSuite) TestMountPoint(c *gc.C) {
	c.Assert(validate.MountPoint(""), jc.ErrorIsNil)
	c.Assert(validate.MountPoint("none"), jc.ErrorIsNil)
	c.Assert(validate.MountPoint("/data"), jc.ErrorIsNil)
	c.Assert(validate.MountPoint("relative/path"),
		gc.ErrorMatches, `mount point "relative/path" not valid`)
}

func (s *validateSuite) TestSizeBounds(c *gc.C) {
	d := &devicetree.BlockDevice{
		Kind: devicetree.Physical, AvailableSize: 100 * gb,
	}

	resolved, err := validate.Size("amd64/generic", d, "50", sizes.Gigabytes)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(resolved, gc.Equals, uint64(50*gb))

	_, err = validate.Size("amd64/generic", d, "0.000001", sizes.Gigabytes)
	c.Assert(err, gc.ErrorMatches, `size 0.000001 below the 4.2 MB minimum not valid`)

	_, err = validate.Size("amd64/generic", d, "200", sizes.Gigabytes)
	c.Assert(err, gc.ErrorMatches, `size 200 exceeds the available .* not valid`)

	_, err = validate.Size("amd64/generic", d, "all of it", sizes.Gigabytes)
	c.Assert(err, gc.ErrorMatches, `size "all of it" not valid`)
}

func (s *validateSuite) TestSizePlaceholderResolvesExactly(c *gc.C) {
	d := &devicetree.BlockDevice{
		Kind: devicetree.Physical, AvailableSize: 100 * gb,
	}
	avail := sizes.AvailablePartitionSpace("amd64/generic", d)

	// Typing exactly what the placeholder shows resolves to the
	// exact available byte count, not the re-parsed approximation.
	placeholder, err := sizes.Format(avail, sizes.Gigabytes)
	c.Assert(err, jc.ErrorIsNil)
	resolved, err := validate.Size("amd64/generic", d, placeholder, sizes.Gigabytes)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(resolved, gc.Equals, avail)
}

func (s *validateSuite) TestSizeOverBudgetWithinToleranceClamps(c *gc.C) {
	// Available space a hair under 100 GB: typing "100" is over
	// budget only by display rounding and resolves to the exact
	// available size.
	d := &devicetree.BlockDevice{
		Kind: devicetree.Physical, AvailableSize: 100*gb - 1*mib,
		PartitionTableType: "GPT",
	}
	avail := sizes.AvailablePartitionSpace("amd64/generic", d)
	c.Assert(avail < 100*gb, jc.IsTrue)

	resolved, err := validate.Size("amd64/generic", d, "100", sizes.Gigabytes)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(resolved, gc.Equals, avail)
}

func (s *validateSuite) TestConsumesAllSpace(c *gc.C) {
	d := &devicetree.BlockDevice{
		Kind: devicetree.Physical, AvailableSize: 100 * gb,
		PartitionTableType: "GPT",
	}
	avail := sizes.AvailablePartitionSpace("amd64/generic", d)
	c.Assert(validate.ConsumesAllSpace("amd64/generic", d, avail), jc.IsTrue)
	c.Assert(validate.ConsumesAllSpace("amd64/generic", d, avail-2*mib), jc.IsTrue)
	c.Assert(validate.ConsumesAllSpace("amd64/generic", d, 50*gb), jc.IsFalse)
}

func member(name string, size uint64, fs *devicetree.Filesystem) devicetree.Unit {
	return devicetree.DeviceUnit{Dev: &devicetree.BlockDevice{
		Kind: devicetree.Physical, Name: name,
		Size: size, AvailableSize: size, Filesystem: fs,
	}}
}

func (s *validateSuite) TestRaidMembers(c *gc.C) {
	members := []devicetree.Unit{
		member("sda", gb, nil), member("sdb", gb, nil),
		member("sdc", gb, nil), member("sdd", gb, nil),
		member("sde", gb, nil),
	}
	c.Assert(validate.RaidMembers(sizes.Raid6, members, 2), jc.ErrorIsNil)

	c.Assert(validate.RaidMembers(sizes.Raid6, members[:3], 0),
		gc.ErrorMatches, `raid-6 with 3 members; at least 4 required not valid`)

	c.Assert(validate.RaidMembers(sizes.Raid0, members[:2], 1),
		gc.ErrorMatches, `raid-0 with spares not valid`)

	formatted := append([]devicetree.Unit{}, members[:3]...)
	formatted = append(formatted, member("sdx", gb, &devicetree.Filesystem{
		FSType: "ext4", IsFormatFSType: true,
	}))
	c.Assert(validate.RaidMembers(sizes.Raid6, formatted, 0),
		gc.ErrorMatches, `sdx with an unmounted ext4 filesystem not valid`)
}

func (s *validateSuite) TestRaidAcceptsPartitionMembers(c *gc.C) {
	owner := &devicetree.BlockDevice{ID: 1, Kind: devicetree.Physical, Name: "sda"}
	members := []devicetree.Unit{
		devicetree.PartitionUnit{Owner: owner, Part: &devicetree.Partition{ID: 1, Size: gb}},
		devicetree.PartitionUnit{Owner: owner, Part: &devicetree.Partition{ID: 2, Size: gb}},
	}
	c.Assert(validate.RaidMembers(sizes.Raid1, members, 0), jc.ErrorIsNil)
}

func (s *validateSuite) TestVolumeGroupMembers(c *gc.C) {
	c.Assert(validate.VolumeGroupMembers([]devicetree.Unit{
		member("sda", gb, nil),
	}), jc.ErrorIsNil)

	c.Assert(validate.VolumeGroupMembers(nil),
		gc.ErrorMatches, `volume group with no members not valid`)

	vg := devicetree.DeviceUnit{Dev: &devicetree.BlockDevice{
		Kind: devicetree.VolumeGroup, Name: "vg0",
	}}
	c.Assert(validate.VolumeGroupMembers([]devicetree.Unit{vg}),
		gc.ErrorMatches, `volume group vg0 as a member not valid`)

	partitioned := devicetree.DeviceUnit{Dev: &devicetree.BlockDevice{
		Kind: devicetree.Physical, Name: "sdp",
		Partitions: []devicetree.Partition{{ID: 1}},
	}}
	c.Assert(validate.VolumeGroupMembers([]devicetree.Unit{partitioned}),
		gc.ErrorMatches, `partitioned device sdp as a volume group member not valid`)
}

func (s *validateSuite) TestCacheSetRemoval(c *gc.C) {
	c.Assert(validate.CacheSetRemoval(&devicetree.CacheSet{Name: "cache0"}), jc.ErrorIsNil)
	c.Assert(validate.CacheSetRemoval(&devicetree.CacheSet{
		Name: "cache0", UsedBy: "bcache0",
	}), gc.ErrorMatches, `deleting cache set cache0 used by bcache0 not valid`)
}
