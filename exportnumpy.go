// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

type exportNumpy struct {
	arvadosArgs
}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputPath := flags.String("output-path", "", "output `file` (.npy, samples x genes, float64)")
	labelsPath := flags.String("labels", "", "also write row and column labels to `labels.csv`")
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
	}

	if !cmd.runlocal {
		runner := cmd.Runner("integra export-numpy", 8<<30, 1)
		err = runner.TranslatePaths(scoresFile)
		if err != nil {
			return 1
		}
		outname := filepath.Base(*outputPath)
		runner.Args = []string{"export-numpy", "-local=true",
			"-scores-file=" + *scoresFile,
			"-output-path=/mnt/output/" + outname,
		}
		if *labelsPath != "" {
			runner.Args = append(runner.Args, "-labels=/mnt/output/"+filepath.Base(*labelsPath))
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
	if len(m.samples) == 0 || len(m.genes) == 0 {
		err = errEmptyMatrix
		return 1
	}
	rows, cols := len(m.samples), len(m.genes)
	out := make([]float64, rows*cols)
	for s := 0; s < rows; s++ {
		for g := 0; g < cols; g++ {
			out[s*cols+g] = m.values[g][s]
		}
	}
	log.Printf("writing %d rows, %d cols to %s", rows, cols, *outputPath)
	err = writeOutput(*outputPath, stdout, func(w io.Writer) error {
		return writeNumpy(w, out, rows, cols)
	})
	if err != nil {
		return 1
	}
	if *labelsPath != "" {
		log.Printf("writing labels to %s", *labelsPath)
		err = writeOutput(*labelsPath, stdout, func(w io.Writer) error {
			return m.writeLabels(w)
		})
		if err != nil {
			return 1
		}
	}
	return 0
}

// writeNumpy writes data as a rows x cols float64 array in .npy
// format.
func writeNumpy(w io.Writer, data []float64, rows, cols int) error {
	npw, err := gonpy.NewWriter(nopCloser{w})
	if err != nil {
		return err
	}
	npw.Shape = []int{rows, cols}
	return npw.WriteFloat64(data)
}

// writeLabels writes one csv line per row ("sample") and column
// ("gene") of the exported array: index, kind, name.
func (m *scoreMatrix) writeLabels(w io.Writer) error {
	cw := csv.NewWriter(w)
	err := cw.Write([]string{"index", "kind", "name"})
	if err != nil {
		return err
	}
	for i, id := range m.samples {
		err = cw.Write([]string{strconv.Itoa(i), "sample", id})
		if err != nil {
			return err
		}
	}
	for i, gene := range m.genes {
		err = cw.Write([]string{strconv.Itoa(i), "gene", gene})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
