// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

type mergeCmd struct {
	arvadosArgs
}

func (cmd *mergeCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cmd.arvadosArgs.Flags(flags)
	directory := flags.String("directory", "", "input `directory`: one tab-separated score file per gene, named {gene}_*")
	outputPath := flags.String("output-path", "", "output `file` (\"-\" for stdout)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	} else if *directory == "" || *outputPath == "" {
		err = errors.New("-directory and -output-path are required")
		return 2
	}

	if !cmd.runlocal {
		runner := cmd.Runner("integra merge", 8<<30, 1)
		err = runner.TranslatePaths(directory)
		if err != nil {
			return 1
		}
		outname := filepath.Base(*outputPath)
		runner.Args = []string{"merge", "-local=true",
			"-directory=" + *directory,
			"-output-path=/mnt/output/" + outname,
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/"+outname)
		return 0
	}

	log.Print("starting the merging process")
	var merged *table
	merged, err = mergeScores(*directory)
	if err != nil {
		return 1
	}
	err = writeOutput(*outputPath, stdout, func(w io.Writer) error {
		_, err := merged.WriteTo(w)
		return err
	})
	if err != nil {
		return 1
	}
	log.Printf("merging is done: %d samples, %d genes", len(merged.rows), len(merged.header)-1)
	return 0
}

// mergeScores joins the per-gene score files in dir into a single
// table keyed by sample ID.
//
// Each file has three tab-separated columns and no header: sample ID,
// score, and an ignored third column. The gene name is the part of
// the file name before the first "_". Files are joined in
// lexicographic order of their names, so the gene columns appear in
// that order too. Samples appear in the order they are first seen; a
// sample missing from a file gets an empty cell in that gene's
// column.
func mergeScores(dir string) (*table, error) {
	names, err := readDir(dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no input files in %s", ErrMalformedInput, dir)
	}
	merged := &table{header: []string{idColumn}}
	rowIdx := map[string]int{}
	geneFile := map[string]string{}
	for _, name := range names {
		gene := strings.SplitN(name, "_", 2)[0]
		if gene == "" || gene == idColumn {
			return nil, fmt.Errorf("%w: cannot derive a gene name from file name %q", ErrMalformedInput, name)
		} else if prev, dup := geneFile[gene]; dup {
			return nil, fmt.Errorf("%w: files %q and %q both have scores for gene %q", ErrMalformedInput, prev, name, gene)
		}
		geneFile[gene] = name

		fnm := joinPath(dir, name)
		log.Infof("merging %s as gene %s", fnm, gene)
		buf, err := readFile(fnm)
		if err != nil {
			return nil, err
		}
		records, err := readTSV(buf, 3)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fnm, err)
		}

		col := len(merged.header)
		merged.header = append(merged.header, gene)
		for i := range merged.rows {
			merged.rows[i] = append(merged.rows[i], "")
		}
		seen := make(map[string]int, len(records))
		for line, rec := range records {
			id, score := rec[0], rec[1]
			if prev, dup := seen[id]; dup {
				return nil, fmt.Errorf("%s: %w: sample %q on lines %d and %d", fnm, ErrMalformedInput, id, prev+1, line+1)
			}
			seen[id] = line
			if _, err := parseScore(score); err != nil {
				return nil, fmt.Errorf("%s: %w: line %d: %s", fnm, ErrMalformedInput, line+1, err)
			}
			row, ok := rowIdx[id]
			if !ok {
				row = len(merged.rows)
				rowIdx[id] = row
				merged.rows = append(merged.rows, make([]string, col+1))
				merged.rows[row][0] = id
			}
			merged.rows[row][col] = score
		}
		log.Debugf("%s: %d samples, %d samples total so far", gene, len(records), len(merged.rows))
	}
	return merged, nil
}
