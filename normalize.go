// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/integra/integra/biomart"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

const defaultDataset = "hsapiens_gene_ensembl"

type normalizeCmd struct {
	arvadosArgs
}

func (cmd *normalizeCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	defaultURL := os.Getenv("INTEGRA_BIOMART_URL")
	if defaultURL == "" {
		defaultURL = biomart.DefaultURL
	}
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cmd.arvadosArgs.Flags(flags)
	matrixFile := flags.String("matrix-file", "", "score matrix `file` (output of merge)")
	lengthsFile := flags.String("genes-lengths-file", "", "gene coordinates `file` with columns \"Gene name\", \"Gene start (bp)\", \"Gene end (bp)\" (default: fetch from BioMart)")
	outputPath := flags.String("output-path", "", "output `file` (\"-\" for stdout)")
	dataset := flags.String("dataset", defaultDataset, "BioMart `dataset` to fetch gene coordinates from")
	biomartURL := flags.String("biomart-url", defaultURL, "BioMart martservice `URL`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	} else if *matrixFile == "" || *outputPath == "" {
		err = errors.New("-matrix-file and -output-path are required")
		return 2
	}

	if !cmd.runlocal {
		runner := cmd.Runner("integra normalize", 8<<30, 1)
		err = runner.TranslatePaths(matrixFile, lengthsFile)
		if err != nil {
			return 1
		}
		outname := filepath.Base(*outputPath)
		runner.Args = []string{"normalize", "-local=true",
			"-matrix-file=" + *matrixFile,
			"-output-path=/mnt/output/" + outname,
			"-dataset=" + *dataset,
			"-biomart-url=" + *biomartURL,
		}
		if *lengthsFile != "" {
			runner.Args = append(runner.Args, "-genes-lengths-file="+*lengthsFile)
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/"+outname)
		return 0
	}

	var source GeneLengthSource
	if *lengthsFile != "" {
		source = fileSource{path: *lengthsFile}
	} else {
		source = newBiomartSource(*biomartURL)
	}
	log.Print("normalization in process")
	var normalized *table
	normalized, err = normalizeScores(context.Background(), *matrixFile, source, *dataset)
	if err != nil {
		return 1
	}
	err = writeOutput(*outputPath, stdout, func(w io.Writer) error {
		_, err := normalized.WriteTo(w)
		return err
	})
	if err != nil {
		return 1
	}
	return 0
}

// normalizeScores reads the score matrix in matrixFile and divides
// each gene's scores by the gene's length in kilobases, rounding to 5
// decimal places. Columns for genes that source does not know, or
// whose length is not positive, are dropped.
func normalizeScores(ctx context.Context, matrixFile string, source GeneLengthSource, dataset string) (*table, error) {
	t, err := readTable(matrixFile)
	if err != nil {
		return nil, err
	}
	coords, err := source.GeneCoordinates(ctx, dataset)
	if err != nil {
		return nil, err
	}
	lengths := geneLengths(coords)
	log.Debugf("have lengths for %d genes", len(lengths))
	out, err := divideByLength(t, lengths)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", matrixFile, err)
	}
	return out, nil
}

func divideByLength(t *table, lengths map[string]float64) (*table, error) {
	drop := map[int]bool{}
	out := &table{header: t.header, rows: make([][]string, len(t.rows))}
	for i, row := range t.rows {
		out.rows[i] = append([]string(nil), row...)
	}
	for col := 1; col < len(t.header); col++ {
		gene := t.header[col]
		kb, ok := lengths[gene]
		if !ok {
			log.Warnf("%s: %s, dropping column", ErrUnknownGene, gene)
			drop[col] = true
			continue
		} else if kb <= 0 {
			log.Warnf("gene %s has length %v kb, dropping column", gene, kb)
			drop[col] = true
			continue
		}
		scores, err := t.floats(col)
		if err != nil {
			return nil, err
		}
		for i, score := range scores {
			if math.IsNaN(score) {
				out.rows[i][col] = ""
				continue
			}
			v, _ := stats.Round(score/kb, 5)
			out.rows[i][col] = formatScore(v)
		}
	}
	if len(drop) > 0 {
		out = out.dropColumns(drop)
	}
	return out, nil
}
