// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sizes_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/maasstorage/core/devicetree"
	"github.com/canonical/maasstorage/core/sizes"
)

type sizesSuite struct{}

var _ = gc.Suite(&sizesSuite{})

const (
	mib = 1024 * 1024
	gb  = 1000 * 1000 * 1000
)

func (s *sizesSuite) TestParseSize(c *gc.C) {
	for _, t := range []struct {
		value string
		unit  sizes.Unit
		bytes uint64
	}{
		{"100", sizes.Gigabytes, 100 * gb},
		{"2.5", sizes.Terabytes, 2500 * gb},
		{"0.001", sizes.Megabytes, 1000},
		{" 42 ", sizes.Bytes, 42},
	} {
		got, err := sizes.ParseSize(t.value, t.unit)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(got, gc.Equals, t.bytes, gc.Commentf("%s %s", t.value, t.unit))
	}
}

func (s *sizesSuite) TestParseSizeRejects(c *gc.C) {
	_, err := sizes.ParseSize("large", sizes.Gigabytes)
	c.Assert(err, gc.ErrorMatches, `size "large" not valid`)
	_, err = sizes.ParseSize("-1", sizes.Gigabytes)
	c.Assert(err, gc.ErrorMatches, `negative size "-1" not valid`)
	_, err = sizes.ParseSize("1", sizes.Unit("PB"))
	c.Assert(err, gc.ErrorMatches, `size unit "PB" not valid`)
}

func (s *sizesSuite) TestFormat(c *gc.C) {
	got, err := sizes.Format(100*gb, sizes.Gigabytes)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(got, gc.Equals, "100")

	got, err = sizes.Format(2500*gb, sizes.Terabytes)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(got, gc.Equals, "2.5")
}

func (s *sizesSuite) TestAlignDown(c *gc.C) {
	c.Assert(sizes.AlignDown(10*mib+3, 4*mib), gc.Equals, uint64(8*mib))
	c.Assert(sizes.AlignDown(8*mib, 4*mib), gc.Equals, uint64(8*mib))
	c.Assert(sizes.AlignDown(123, 0), gc.Equals, uint64(123))
}

func (s *sizesSuite) TestReservedOverhead(c *gc.C) {
	unpartitioned := &devicetree.BlockDevice{
		Kind: devicetree.Physical, AvailableSize: 100 * gb,
	}
	c.Assert(sizes.ReservedOverhead("amd64/generic", unpartitioned),
		gc.Equals, uint64(5*mib))

	partitioned := &devicetree.BlockDevice{
		Kind: devicetree.Physical, AvailableSize: 100 * gb,
		PartitionTableType: "GPT",
	}
	c.Assert(sizes.ReservedOverhead("amd64/generic", partitioned),
		gc.Equals, uint64(0))

	prepBoot := &devicetree.BlockDevice{
		Kind: devicetree.Physical, AvailableSize: 100 * gb, IsBoot: true,
	}
	c.Assert(sizes.ReservedOverhead("ppc64el/generic", prepBoot),
		gc.Equals, uint64(13*mib))

	// Not the boot disk: no PReP partition needed.
	prepData := &devicetree.BlockDevice{
		Kind: devicetree.Physical, AvailableSize: 100 * gb,
	}
	c.Assert(sizes.ReservedOverhead("ppc64el/generic", prepData),
		gc.Equals, uint64(5*mib))
}

func (s *sizesSuite) TestAvailablePartitionSpace(c *gc.C) {
	d := &devicetree.BlockDevice{
		Kind: devicetree.Physical, AvailableSize: 100 * gb,
	}
	got := sizes.AvailablePartitionSpace("amd64/generic", d)
	c.Assert(got, gc.Equals, sizes.AlignDown(100*gb-5*mib, 4*mib))
}

func (s *sizesSuite) TestAvailablePartitionSpaceProperties(c *gc.C) {
	for _, avail := range []uint64{0, 1, 4 * mib, 5 * mib, 100 * gb, 100*gb + 1} {
		for _, table := range []string{"", "GPT"} {
			d := &devicetree.BlockDevice{
				Kind: devicetree.Physical, AvailableSize: avail,
				PartitionTableType: table,
			}
			got := sizes.AvailablePartitionSpace("amd64/generic", d)
			c.Check(got%sizes.PartitionAlignment, gc.Equals, uint64(0))
			c.Check(got <= d.AvailableSize, jc.IsTrue)
		}
	}
}
