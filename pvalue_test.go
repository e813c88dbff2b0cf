// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/check.v1"
)

type pvalueSuite struct{}

var _ = check.Suite(&pvalueSuite{})

// testCohortFiles writes a score matrix and genotype table for n
// controls and n cases:
//
//	SEP: controls 1..n, cases n+1..2n (no overlap)
//	SAME: both groups 1..n
//	HALF: controls 1..n, cases n/2+1..n/2+n
//
// Two extra samples are not scored in both groups: X1 has no
// genotype row and X2 has an empty status.
func testCohortFiles(c *check.C, n int) (scoresFile, genotypeFile string) {
	tmpdir := c.MkDir()
	var scores, genotype strings.Builder
	scores.WriteString("patient_id\tSEP\tSAME\tHALF\n")
	genotype.WriteString("patient_id\tstatus\tage\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&scores, "C%d\t%d\t%d\t%d\n", i, i+1, i+1, i+1)
		fmt.Fprintf(&genotype, "C%d\tcontrol\t%d\n", i, 40+i%7)
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&scores, "K%d\t%d\t%d\t%d\n", i, n+i+1, i+1, n/2+i+1)
		fmt.Fprintf(&genotype, "K%d\tcase\t%d\n", i, 41+i%5)
	}
	scores.WriteString("X1\t-100\t-100\t-100\nX2\t-100\t-100\t-100\n")
	genotype.WriteString("X2\t\t50\n")
	writeFile(c, tmpdir+"/scores.tsv", scores.String())
	writeFile(c, tmpdir+"/genotype.tsv", genotype.String())
	return tmpdir + "/scores.tsv", tmpdir + "/genotype.tsv"
}

func (s *pvalueSuite) loadTestCohorts(c *check.C, n int, covariates ...string) (*scoreMatrix, *cohorts) {
	scoresFile, genotypeFile := testCohortFiles(c, n)
	m, err := readScoreMatrix(scoresFile)
	c.Assert(err, check.IsNil)
	genotype, err := readTable(genotypeFile)
	c.Assert(err, check.IsNil)
	co, err := loadCohorts(m, genotype, "status", covariates)
	c.Assert(err, check.IsNil)
	return m, co
}

func (s *pvalueSuite) TestLoadCohorts(c *check.C) {
	_, co := s.loadTestCohorts(c, 10, "age")
	c.Check(co.groups, check.Equals, [2]string{"case", "control"})
	c.Check(co.samples, check.HasLen, 20)
	ncase := 0
	for _, cc := range co.isCase {
		if cc {
			ncase++
		}
	}
	c.Check(ncase, check.Equals, 10)
	// "case" sorts first, so controls are the case group
	c.Check(co.isCase[0], check.Equals, true)
	c.Check(co.covariates, check.HasLen, 1)
	c.Check(co.covariates[0][:3], check.DeepEquals, []float64{40, 41, 42})
}

func (s *pvalueSuite) TestSeparatedGroups(c *check.C) {
	test, err := newPvalueTest("mannwhitney")
	c.Assert(err, check.IsNil)
	for _, n := range []int{10, 12, 25} {
		m, co := s.loadTestCohorts(c, n)
		results, err := calculatePvalues(m, co, []string{"SEP"}, test)
		c.Assert(err, check.IsNil)
		c.Assert(results, check.HasLen, 1)
		c.Logf("n=%d p=%g", n, results[0].p)
		c.Check(results[0].p < 0.05, check.Equals, true)
		c.Check(results[0].p > 0, check.Equals, true)
	}
}

func (s *pvalueSuite) TestSortedOutput(c *check.C) {
	test, err := newPvalueTest("mannwhitney")
	c.Assert(err, check.IsNil)
	m, co := s.loadTestCohorts(c, 12)
	results, err := calculatePvalues(m, co, nil, test)
	c.Assert(err, check.IsNil)
	c.Assert(results, check.HasLen, 3)
	c.Check(results[0].gene, check.Equals, "SEP")
	c.Check(results[1].gene, check.Equals, "HALF")
	c.Check(results[2].gene, check.Equals, "SAME")
	c.Check(results[2].p, check.Equals, 1.0)
	for i := 1; i < len(results); i++ {
		c.Check(results[i-1].p <= results[i].p, check.Equals, true)
	}

	var prev string
	for _, genes := range [][]string{
		{"SAME", "HALF", "SEP"},
		{"SEP", "SAME", "HALF"},
		{"HALF", "SEP", "SAME", "SEP"},
	} {
		results, err := calculatePvalues(m, co, genes, test)
		c.Assert(err, check.IsNil)
		var buf bytes.Buffer
		_, err = pvalueTable(results).WriteTo(&buf)
		c.Assert(err, check.IsNil)
		if prev != "" {
			checkTSV(c, buf.String(), prev)
		}
		prev = buf.String()
	}
	c.Check(prev, check.Matches, "genes\tp_value\nSEP\t.*\nHALF\t.*\nSAME\t1\n")
}

func (s *pvalueSuite) TestSortTies(c *check.C) {
	test := func(co *cohorts, scores []float64) (float64, error) {
		return map[float64]float64{1: 0.5, 2: math.NaN(), 3: 0.5, 4: 0.01}[scores[0]], nil
	}
	t, err := parseTable([]byte("patient_id\tD\tC\tB\tA\nS1\t1\t2\t3\t4\nS2\t1\t2\t3\t4\n"))
	c.Assert(err, check.IsNil)
	m, err := newScoreMatrix(t)
	c.Assert(err, check.IsNil)
	co := &cohorts{groups: [2]string{"0", "1"}, samples: []int{0, 1}, isCase: []bool{false, true}}
	results, err := calculatePvalues(m, co, nil, test)
	c.Assert(err, check.IsNil)
	var genes []string
	for _, r := range results {
		genes = append(genes, r.gene)
	}
	c.Check(genes, check.DeepEquals, []string{"A", "B", "D", "C"})
}

func (s *pvalueSuite) TestUnknownGene(c *check.C) {
	test, err := newPvalueTest("mannwhitney")
	c.Assert(err, check.IsNil)
	m, co := s.loadTestCohorts(c, 10)
	_, err = calculatePvalues(m, co, []string{"SEP", "BOGUS"}, test)
	c.Check(errors.Is(err, ErrUnknownGene), check.Equals, true, check.Commentf("err = %v", err))
}

func (s *pvalueSuite) TestGroups(c *check.C) {
	t, err := parseTable([]byte("patient_id\tG\nS1\t1\nS2\t2\nS3\t3\nS4\t4\n"))
	c.Assert(err, check.IsNil)
	m, err := newScoreMatrix(t)
	c.Assert(err, check.IsNil)
	for _, trial := range []string{
		"patient_id\tstatus\nS1\ta\nS2\tb\nS3\tc\nS4\ta\n",
		"patient_id\tstatus\nS1\ta\nS2\ta\nS3\ta\nS4\ta\n",
		"patient_id\tstatus\nS1\t\nS2\t\nS3\t\nS4\t\n",
		"patient_id\tstatus\nS9\ta\nS8\tb\n",
	} {
		genotype, err := parseTable([]byte(trial))
		c.Assert(err, check.IsNil)
		_, err = loadCohorts(m, genotype, "status", nil)
		c.Check(errors.Is(err, ErrInsufficientGroups), check.Equals, true, check.Commentf("err = %v", err))
	}

	genotype, err := parseTable([]byte("patient_id\tstatus\nS1\ta\nS2\tb\n"))
	c.Assert(err, check.IsNil)
	_, err = loadCohorts(m, genotype, "phenotype", nil)
	c.Check(errors.Is(err, ErrMalformedInput), check.Equals, true, check.Commentf("err = %v", err))
	_, err = loadCohorts(m, genotype, "status", []string{"age"})
	c.Check(errors.Is(err, ErrMalformedInput), check.Equals, true, check.Commentf("err = %v", err))

	// identifier column other than patient_id
	genotype, err = parseTable([]byte("sample\tstatus\nS1\ta\nS2\tb\nS3\ta\n"))
	c.Assert(err, check.IsNil)
	co, err := loadCohorts(m, genotype, "status", nil)
	c.Assert(err, check.IsNil)
	c.Check(co.samples, check.DeepEquals, []int{0, 1, 2})
	c.Check(co.isCase, check.DeepEquals, []bool{false, true, false})
}

func (s *pvalueSuite) TestEmptyGroupForGene(c *check.C) {
	t, err := parseTable([]byte("patient_id\tG\tH\nS1\t1\t1\nS2\t2\t\nS3\t3\t3\nS4\t4\t\n"))
	c.Assert(err, check.IsNil)
	m, err := newScoreMatrix(t)
	c.Assert(err, check.IsNil)
	genotype, err := parseTable([]byte("patient_id\tstatus\nS1\t0\nS2\t1\nS3\t0\nS4\t1\n"))
	c.Assert(err, check.IsNil)
	co, err := loadCohorts(m, genotype, "status", nil)
	c.Assert(err, check.IsNil)
	test, err := newPvalueTest("exact")
	c.Assert(err, check.IsNil)
	results, err := calculatePvalues(m, co, []string{"G"}, test)
	c.Check(err, check.IsNil)
	c.Check(results, check.HasLen, 1)
	_, err = calculatePvalues(m, co, []string{"G", "H"}, test)
	c.Check(errors.Is(err, ErrInsufficientGroups), check.Equals, true, check.Commentf("err = %v", err))
}

func (s *pvalueSuite) TestGLM(c *check.C) {
	var isCase []bool
	var sep, same []float64
	for i := 0; i < 20; i++ {
		isCase = append(isCase, false)
		sep = append(sep, float64(i))
		same = append(same, float64(i))
	}
	for i := 0; i < 20; i++ {
		isCase = append(isCase, true)
		sep = append(sep, float64(i+10))
		same = append(same, float64(i))
	}
	p := pvalueGLM(isCase, nil, sep)
	c.Logf("overlapping p=%g", p)
	c.Check(p > 1e-7 && p < 1e-5, check.Equals, true)

	p = pvalueGLM(isCase, nil, same)
	c.Logf("identical p=%g", p)
	c.Check(p > 0.99, check.Equals, true)

	// missing scores are left out
	sep[0], sep[39] = math.NaN(), math.NaN()
	p = pvalueGLM(isCase, nil, sep)
	c.Check(p > 0 && p < 1e-4, check.Equals, true, check.Commentf("p=%g", p))

	// a covariate identical to the score explains everything
	p = pvalueGLM(isCase, [][]float64{sep}, sep)
	c.Check(math.IsNaN(p) || p > 0.99, check.Equals, true, check.Commentf("p=%g", p))
}

func (s *pvalueSuite) TestCommand(c *check.C) {
	scoresFile, genotypeFile := testCohortFiles(c, 12)
	tmpdir := c.MkDir()
	var stdout, stderr bytes.Buffer
	exited := (&pvalueCmd{}).RunCommand("integra calculate-pval", []string{
		"--scores-file", scoresFile,
		"--genotype-file", genotypeFile,
		"--output-file", tmpdir + "/pvalues.tsv",
		"--genes", "SAME,SEP",
		"--cases-column", "status",
	}, nil, &stdout, &stderr)
	c.Check(stderr.String(), check.Equals, "")
	c.Assert(exited, check.Equals, 0)
	out := readOutput(c, tmpdir+"/pvalues.tsv")
	c.Check(out, check.Matches, "genes\tp_value\nSEP\t[0-9.e-]+\nSAME\t1\n")

	exited = (&pvalueCmd{}).RunCommand("integra calculate-pval", []string{
		"-scores-file", scoresFile,
		"-genotype-file", genotypeFile,
		"-output-file", "-",
		"-cases-column", "status",
		"-method", "glm",
		"-covariates", "age",
	}, nil, &stdout, &stderr)
	c.Check(stderr.String(), check.Equals, "")
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Matches, `genes\tp_value\n(\w+\t.*\n){3}`)

	stdout.Reset()
	exited = (&pvalueCmd{}).RunCommand("integra calculate-pval", []string{
		"-scores-file", scoresFile,
		"-genotype-file", genotypeFile,
		"-output-file", tmpdir + "/bogus.tsv",
		"-cases-column", "status",
		"-genes", "SEP,BOGUS",
	}, nil, &stdout, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `unknown gene: "BOGUS".*\n`)

	for _, args := range [][]string{
		{"-scores-file", scoresFile, "-genotype-file", genotypeFile, "-output-file", "-"},
		{"-scores-file", scoresFile, "-genotype-file", genotypeFile, "-output-file", "-", "-cases-column", "status", "-covariates", "age"},
		{"-scores-file", scoresFile, "-genotype-file", genotypeFile, "-output-file", "-", "-cases-column", "status", "-method", "t-test"},
	} {
		c.Check((&pvalueCmd{}).RunCommand("integra calculate-pval", args, nil, &bytes.Buffer{}, &bytes.Buffer{}), check.Equals, 2)
	}
}
