// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/integra/integra/ranksum"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

type pvalueCmd struct {
	arvadosArgs
}

func (cmd *pvalueCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cmd.arvadosArgs.Flags(flags)
	scoresFile := flags.String("scores-file", "", "score matrix `file`")
	genotypeFile := flags.String("genotype-file", "", "genotype `file` with patient_id and case/control columns")
	outputFile := flags.String("output-file", "", "output `file` (\"-\" for stdout)")
	genesList := flags.String("genes", "", "comma-separated `genes` to test (default: all genes in scores file)")
	casesColumn := flags.String("cases-column", "", "`name` of the case/control column in the genotype file")
	method := flags.String("method", "mannwhitney", "test `method`: mannwhitney, exact, asymptotic, or glm")
	covariatesList := flags.String("covariates", "", "comma-separated genotype `columns` to use as covariates (with -method=glm)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	} else if *scoresFile == "" || *genotypeFile == "" || *outputFile == "" || *casesColumn == "" {
		err = errors.New("-scores-file, -genotype-file, -output-file, and -cases-column are required")
		return 2
	} else if *covariatesList != "" && *method != "glm" {
		err = errors.New("-covariates can only be used with -method=glm")
		return 2
	}
	var test pvalueTest
	test, err = newPvalueTest(*method)
	if err != nil {
		return 2
	}

	if !cmd.runlocal {
		runner := cmd.Runner("integra calculate-pval", 8<<30, 1)
		err = runner.TranslatePaths(scoresFile, genotypeFile)
		if err != nil {
			return 1
		}
		outname := filepath.Base(*outputFile)
		runner.Args = []string{"calculate-pval", "-local=true",
			"-scores-file=" + *scoresFile,
			"-genotype-file=" + *genotypeFile,
			"-output-file=/mnt/output/" + outname,
			"-genes=" + *genesList,
			"-cases-column=" + *casesColumn,
			"-method=" + *method,
			"-covariates=" + *covariatesList,
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/"+outname)
		return 0
	}

	var m *scoreMatrix
	m, err = readScoreMatrix(*scoresFile)
	if err != nil {
		return 1
	}
	var genotype *table
	genotype, err = readTable(*genotypeFile)
	if err != nil {
		return 1
	}
	var co *cohorts
	co, err = loadCohorts(m, genotype, *casesColumn, splitList(*covariatesList))
	if err != nil {
		err = fmt.Errorf("%s: %w", *genotypeFile, err)
		return 1
	}
	var results []genePvalue
	results, err = calculatePvalues(m, co, splitList(*genesList), test)
	if err != nil {
		return 1
	}
	err = writeOutput(*outputFile, stdout, func(w io.Writer) error {
		_, err := pvalueTable(results).WriteTo(w)
		return err
	})
	if err != nil {
		return 1
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// cohorts holds the samples of a score matrix that have a
// case/control group.
type cohorts struct {
	// distinct group values, sorted; groups[1] is the case group
	groups [2]string
	// index into scoreMatrix.samples
	samples []int
	// isCase[i] is true if samples[i] is in groups[1]
	isCase []bool
	// covariates[j][i] is covariate j of samples[i]
	covariates [][]float64
}

// loadCohorts looks up each score matrix sample in the genotype table
// (by patient_id, or the first column if there is no patient_id
// column). Samples without a genotype row or without a value in
// casesColumn are left out. The remaining samples must fall into
// exactly two groups.
func loadCohorts(m *scoreMatrix, genotype *table, casesColumn string, covariates []string) (*cohorts, error) {
	ccCol := genotype.column(casesColumn)
	if ccCol < 0 {
		return nil, fmt.Errorf("%w: no column named %q in header row %q", ErrMalformedInput, casesColumn, genotype.header)
	}
	idCol := genotype.column(idColumn)
	if idCol < 0 {
		idCol = 0
	}
	covCols := make([]int, len(covariates))
	for j, name := range covariates {
		covCols[j] = genotype.column(name)
		if covCols[j] < 0 {
			return nil, fmt.Errorf("%w: no covariate column named %q in header row %q", ErrMalformedInput, name, genotype.header)
		}
	}
	idx, err := genotype.index(idCol)
	if err != nil {
		return nil, err
	}

	co := &cohorts{covariates: make([][]float64, len(covariates))}
	var groupOf []string
	distinct := map[string]int{}
	for s, id := range m.samples {
		row, ok := idx[id]
		if !ok {
			log.Debugf("sample %q has no genotype row, skipping", id)
			continue
		}
		group := strings.TrimSpace(genotype.rows[row][ccCol])
		if group == "" {
			log.Debugf("sample %q has no %s value, skipping", id, casesColumn)
			continue
		}
		for j, col := range covCols {
			v, err := parseScore(genotype.rows[row][col])
			if err != nil || math.IsNaN(v) {
				return nil, fmt.Errorf("%w: sample %q: covariate %q must be numeric, got %q", ErrMalformedInput, id, covariates[j], genotype.rows[row][col])
			}
			co.covariates[j] = append(co.covariates[j], v)
		}
		co.samples = append(co.samples, s)
		groupOf = append(groupOf, group)
		distinct[group]++
	}
	if len(distinct) != 2 {
		var names []string
		for g := range distinct {
			names = append(names, g)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: column %q has %d distinct values %q among scored samples", ErrInsufficientGroups, casesColumn, len(distinct), names)
	}
	i := 0
	for g := range distinct {
		co.groups[i] = g
		i++
	}
	if co.groups[0] > co.groups[1] {
		co.groups[0], co.groups[1] = co.groups[1], co.groups[0]
	}
	for _, g := range groupOf {
		co.isCase = append(co.isCase, g == co.groups[1])
	}
	log.Infof("%s: %d samples in group %q, %d samples in group %q", casesColumn, distinct[co.groups[0]], co.groups[0], distinct[co.groups[1]], co.groups[1])
	return co, nil
}

// A pvalueTest computes a p-value for one gene from the scores of the
// samples in each cohort.
type pvalueTest func(co *cohorts, scores []float64) (float64, error)

func newPvalueTest(method string) (pvalueTest, error) {
	if method == "glm" {
		return func(co *cohorts, scores []float64) (float64, error) {
			return pvalueGLM(co.isCase, co.covariates, scores), nil
		}, nil
	}
	if method == "mannwhitney" {
		method = ranksum.Auto.String()
	}
	rsm, err := ranksum.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	return func(co *cohorts, scores []float64) (float64, error) {
		var x, y []float64
		for i, v := range scores {
			if math.IsNaN(v) {
				continue
			} else if co.isCase[i] {
				y = append(y, v)
			} else {
				x = append(x, v)
			}
		}
		res, err := ranksum.MannWhitneyU(x, y, rsm)
		if err != nil {
			return 0, err
		}
		return res.P, nil
	}, nil
}

type genePvalue struct {
	gene string
	p    float64
}

// calculatePvalues tests each of the given genes (all genes in m if
// genes is empty) and returns the results sorted by ascending
// p-value, with ties broken by gene name and NaN last.
func calculatePvalues(m *scoreMatrix, co *cohorts, genes []string, test pvalueTest) ([]genePvalue, error) {
	geneIdx := make(map[string]int, len(m.genes))
	for g, gene := range m.genes {
		geneIdx[gene] = g
	}
	if len(genes) == 0 {
		genes = m.genes
	}
	var results []genePvalue
	done := map[string]bool{}
	for _, gene := range genes {
		if done[gene] {
			continue
		}
		done[gene] = true
		g, ok := geneIdx[gene]
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a column in the scores file", ErrUnknownGene, gene)
		}
		scores := make([]float64, len(co.samples))
		var counts [2]int
		var grouped [2][]float64
		for i, s := range co.samples {
			scores[i] = m.values[g][s]
			if math.IsNaN(scores[i]) {
				continue
			}
			k := 0
			if co.isCase[i] {
				k = 1
			}
			counts[k]++
			grouped[k] = append(grouped[k], scores[i])
		}
		for k, n := range counts {
			if n == 0 {
				return nil, fmt.Errorf("%w: gene %s has no scores in group %q", ErrInsufficientGroups, gene, co.groups[k])
			}
		}
		p, err := test(co, scores)
		if err != nil {
			return nil, fmt.Errorf("gene %s: %w", gene, err)
		}
		med0, _ := stats.Median(grouped[0])
		med1, _ := stats.Median(grouped[1])
		log.Debugf("%s: median %g (%q, n=%d) vs %g (%q, n=%d), p=%g", gene, med0, co.groups[0], counts[0], med1, co.groups[1], counts[1], p)
		results = append(results, genePvalue{gene: gene, p: p})
	}
	sort.Slice(results, func(i, j int) bool {
		pi, pj := results[i].p, results[j].p
		switch {
		case math.IsNaN(pi) != math.IsNaN(pj):
			return math.IsNaN(pj)
		case pi != pj && !math.IsNaN(pi):
			return pi < pj
		default:
			return results[i].gene < results[j].gene
		}
	})
	return results, nil
}

func pvalueTable(results []genePvalue) *table {
	t := &table{header: []string{"genes", "p_value"}}
	for _, r := range results {
		t.rows = append(t.rows, []string{r.gene, formatScore(r.p)})
	}
	return t
}
