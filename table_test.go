// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"bytes"
	"errors"
	"math"

	"gopkg.in/check.v1"
)

type tableSuite struct{}

var _ = check.Suite(&tableSuite{})

func (s *tableSuite) TestRoundTrip(c *check.C) {
	in := "patient_id\tTP53\tBRCA1\tnote\n" +
		"P1\t0.00012\t-3\ttext with spaces\n" +
		"P2\t\t1e-07\tx\n" +
		"P3\t1234567.5\t0\t\n"
	t, err := parseTable([]byte(in))
	c.Assert(err, check.IsNil)
	var buf bytes.Buffer
	_, err = t.WriteTo(&buf)
	c.Assert(err, check.IsNil)
	checkTSV(c, buf.String(), in)

	t2, err := parseTable(buf.Bytes())
	c.Assert(err, check.IsNil)
	c.Check(t2, check.DeepEquals, t)
}

func (s *tableSuite) TestScoreMatrixRoundTrip(c *check.C) {
	in := "patient_id\tTP53\tBRCA1\nP1\t0.5\t-3\nP2\t\t1e-07\nP3\t1234567.5\t0\n"
	t, err := parseTable([]byte(in))
	c.Assert(err, check.IsNil)
	m, err := newScoreMatrix(t)
	c.Assert(err, check.IsNil)
	c.Check(m.samples, check.DeepEquals, []string{"P1", "P2", "P3"})
	c.Check(m.genes, check.DeepEquals, []string{"TP53", "BRCA1"})
	c.Check(math.IsNaN(m.values[0][1]), check.Equals, true)
	c.Check(m.values[1][1], check.Equals, 1e-7)

	var buf bytes.Buffer
	_, err = m.table().WriteTo(&buf)
	c.Assert(err, check.IsNil)
	checkTSV(c, buf.String(), in)
}

func (s *tableSuite) TestMalformed(c *check.C) {
	for _, trial := range []string{
		"",
		"patient_id\tA\tA\nP1\t1\t2\n",
		"patient_id\tA\nP1\t1\t2\n",
		"patient_id\tA\tB\nP1\t1\n",
		"patient_id,A,B\nP1,1,2\nP2,3,4\n",
	} {
		c.Logf("=== %q", trial)
		_, err := parseTable([]byte(trial))
		c.Check(errors.Is(err, ErrMalformedInput), check.Equals, true, check.Commentf("err = %v", err))
	}

	t, err := parseTable([]byte("patient_id\tA\nP1\t1\nP1\t2\n"))
	c.Assert(err, check.IsNil)
	_, err = newScoreMatrix(t)
	c.Check(errors.Is(err, ErrMalformedInput), check.Equals, true)
	c.Check(err, check.ErrorMatches, `.*duplicate patient_id "P1".*`)

	t, err = parseTable([]byte("patient_id\tA\nP1\tabc\n"))
	c.Assert(err, check.IsNil)
	_, err = newScoreMatrix(t)
	c.Check(errors.Is(err, ErrMalformedInput), check.Equals, true)
}

func (s *tableSuite) TestSingleColumn(c *check.C) {
	t, err := parseTable([]byte("patient_id\nP1\nP2\n"))
	c.Assert(err, check.IsNil)
	c.Check(t.rows, check.HasLen, 2)
}

func (s *tableSuite) TestFormatScore(c *check.C) {
	for _, trial := range []struct {
		in  float64
		out string
	}{
		{0, "0"},
		{1, "1"},
		{-0.25, "-0.25"},
		{0.04115, "0.04115"},
		{0.0001, "0.0001"},
		{1e-05, "1e-05"},
		{3.4e-12, "3.4e-12"},
		{123456.789, "123456.789"},
		{1e20, "1e+20"},
		{math.NaN(), ""},
	} {
		c.Check(formatScore(trial.in), check.Equals, trial.out)
	}
}

func (s *tableSuite) TestParseScore(c *check.C) {
	for _, in := range []string{"", " ", "NaN", "nan", "NA"} {
		v, err := parseScore(in)
		c.Check(err, check.IsNil)
		c.Check(math.IsNaN(v), check.Equals, true, check.Commentf("in %q", in))
	}
	v, err := parseScore(" 2.5 ")
	c.Check(err, check.IsNil)
	c.Check(v, check.Equals, 2.5)
	_, err = parseScore("high")
	c.Check(err, check.NotNil)
}

func (s *tableSuite) TestDropColumns(c *check.C) {
	t, err := parseTable([]byte("patient_id\tA\tB\tC\nP1\t1\t2\t3\n"))
	c.Assert(err, check.IsNil)
	out := t.dropColumns(map[int]bool{1: true, 3: true})
	c.Check(out.header, check.DeepEquals, []string{"patient_id", "B"})
	c.Check(out.rows, check.DeepEquals, [][]string{{"P1", "2"}})
	// original is unchanged
	c.Check(t.header, check.HasLen, 4)
}
