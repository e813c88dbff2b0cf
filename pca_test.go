// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"bytes"
	"math"

	"gopkg.in/check.v1"
)

type pcaSuite struct{}

var _ = check.Suite(&pcaSuite{})

func (s *pcaSuite) TestRankOne(c *check.C) {
	t, err := parseTable([]byte("patient_id\tA\tB\nS1\t0\t1\nS2\t1\t3\nS3\t2\t5\n"))
	c.Assert(err, check.IsNil)
	m, err := newScoreMatrix(t)
	c.Assert(err, check.IsNil)
	pcs, err := principalComponents(m, 2)
	c.Assert(err, check.IsNil)
	rows, cols := pcs.Dims()
	c.Check(rows, check.Equals, 3)
	c.Check(cols, check.Equals, 2)
	for s := 0; s < 3; s++ {
		c.Logf("%s: %v %v", m.samples[s], pcs.At(s, 0), pcs.At(s, 1))
		c.Check(math.Abs(pcs.At(s, 1)) < 1e-9, check.Equals, true)
	}
	// centered points are -1,-2 / 0,0 / 1,2
	c.Check(math.Abs(math.Abs(pcs.At(0, 0))-math.Sqrt(5)) < 1e-9, check.Equals, true)
	c.Check(math.Abs(pcs.At(1, 0)) < 1e-9, check.Equals, true)
	c.Check(math.Abs(pcs.At(0, 0)+pcs.At(2, 0)) < 1e-9, check.Equals, true)
}

func (s *pcaSuite) TestMissingIsMean(c *check.C) {
	t, err := parseTable([]byte("patient_id\tA\tB\nS1\t0\t1\nS2\t\t3\nS3\t2\t5\n"))
	c.Assert(err, check.IsNil)
	m, err := newScoreMatrix(t)
	c.Assert(err, check.IsNil)
	pcs, err := principalComponents(m, 1)
	c.Assert(err, check.IsNil)
	// S2 is at the mean of both genes
	c.Check(math.Abs(pcs.At(1, 0)) < 1e-9, check.Equals, true)
}

func (s *pcaSuite) TestTooManyComponents(c *check.C) {
	m, err := readScoreMatrix("testdata/scores.tsv")
	c.Assert(err, check.IsNil)
	_, err = principalComponents(m, 3)
	c.Check(err, check.ErrorMatches, `cannot compute 3 components from 4 genes and 2 samples`)
}

func (s *pcaSuite) TestPCACommand(c *check.C) {
	var stdout, stderr bytes.Buffer
	exited := (&goPCA{}).RunCommand("integra pca", []string{"-local=true", "-scores-file", "testdata/scores.tsv", "-output-path", "-", "-components", "2"}, nil, &stdout, &stderr)
	c.Check(stderr.String(), check.Equals, "")
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Matches, `patient_id\tPC1\tPC2\nP1\t\S+\t\S+\nP2\t\S+\t\S+\n`)

	tmpdir := c.MkDir()
	exited = (&goPCA{}).RunCommand("integra pca", []string{"-local=true", "-scores-file", "testdata/scores.tsv", "-output-path", tmpdir + "/pca.npy", "-components", "1"}, nil, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0)
	shape, data := readNumpy(c, tmpdir+"/pca.npy")
	c.Check(shape, check.DeepEquals, []int{2, 1})
	c.Check(data, check.HasLen, 2)

	exited = (&goPCA{}).RunCommand("integra pca", []string{"-local=true", "-scores-file", "testdata/scores.tsv", "-output-path", "-", "-components", "0"}, nil, &stdout, &stderr)
	c.Check(exited, check.Equals, 2)
}
