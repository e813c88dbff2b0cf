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
	"strings"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type goPCA struct {
	arvadosArgs
}

func (cmd *goPCA) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputPath := flags.String("output-path", "", "output `file` (TSV, or numpy array if name ends in .npy)")
	components := flags.Int("components", 4, "number of components")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	} else if *scoresFile == "" || *outputPath == "" {
		err = errors.New("-scores-file and -output-path are required")
		return 2
	} else if *components < 1 {
		err = fmt.Errorf("invalid -components %d", *components)
		return 2
	}

	if !cmd.runlocal {
		runner := cmd.Runner("integra pca", 16<<30, 4)
		err = runner.TranslatePaths(scoresFile)
		if err != nil {
			return 1
		}
		outname := filepath.Base(*outputPath)
		runner.Args = []string{"pca", "-local=true",
			"-scores-file=" + *scoresFile,
			"-output-path=/mnt/output/" + outname,
			fmt.Sprintf("-components=%d", *components),
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
	var pcs *mat.Dense
	pcs, err = principalComponents(m, *components)
	if err != nil {
		return 1
	}
	err = writeOutput(*outputPath, stdout, func(w io.Writer) error {
		if strings.HasSuffix(*outputPath, ".npy") || strings.HasSuffix(*outputPath, ".npy.gz") {
			rows, cols := pcs.Dims()
			return writeNumpy(w, pcs.RawMatrix().Data, rows, cols)
		}
		_, err := pcaTable(m.samples, pcs).WriteTo(w)
		return err
	})
	if err != nil {
		return 1
	}
	return 0
}

// principalComponents returns a samples x k matrix: each sample's
// projection onto the first k principal components of the gene
// scores. Missing scores are replaced with the gene's mean.
func principalComponents(m *scoreMatrix, k int) (*mat.Dense, error) {
	rows, cols := len(m.genes), len(m.samples)
	if rows == 0 || cols == 0 {
		return nil, errEmptyMatrix
	}
	if k > rows || k > cols {
		return nil, fmt.Errorf("cannot compute %d components from %d genes and %d samples", k, rows, cols)
	}

	log.Printf("creating matrix: %d genes, %d samples", rows, cols)
	mtx := mat.NewDense(rows, cols, nil)
	present := make([]float64, 0, cols)
	for g, vals := range m.values {
		present = present[:0]
		for _, v := range vals {
			if !math.IsNaN(v) {
				present = append(present, v)
			}
		}
		mean := 0.0
		if len(present) > 0 {
			mean = stat.Mean(present, nil)
		} else {
			log.Warnf("gene %s has no scores", m.genes[g])
		}
		// centered, so missing values (at the mean) become 0
		for s, v := range vals {
			if !math.IsNaN(v) {
				mtx.Set(g, s, v-mean)
			}
		}
	}

	log.Print("fitting")
	transformer := nlp.NewPCA(k)
	transformer.Fit(mtx)
	log.Print("transforming")
	out, err := transformer.Transform(mtx)
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(out.T()), nil
}

func pcaTable(samples []string, pcs *mat.Dense) *table {
	_, k := pcs.Dims()
	t := &table{header: []string{idColumn}}
	for c := 0; c < k; c++ {
		t.header = append(t.header, fmt.Sprintf("PC%d", c+1))
	}
	for s, id := range samples {
		row := []string{id}
		for c := 0; c < k; c++ {
			row = append(row, formatScore(pcs.At(s, c)))
		}
		t.rows = append(t.rows, row)
	}
	return t
}
