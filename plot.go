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
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/wcharczuk/go-chart/v2"
)

const plotDPI = 100

type plotCmd struct {
	arvadosArgs
}

func (cmd *plotCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	var opts plotOptions
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cmd.arvadosArgs.Flags(flags)
	scoresFile := flags.String("scores-file", "", "score matrix `file`")
	outputPath := flags.String("output-path", "", "output image `file` (.png or .svg)")
	figsize := flags.String("figsize", "10x6", "figure size in inches, `WxH`")
	flags.StringVar(&opts.xlabel, "xlabel", "", "x axis `label`")
	flags.StringVar(&opts.ylabel, "ylabel", "", "y axis `label`")
	flags.Float64Var(&opts.fontSize, "fontsize", 8, "tick label font `size`")
	flags.StringVar(&opts.axis, "axis", idColumn, "plot one series per gene against samples if `axis` is patient_id, otherwise one series per sample against genes")
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
	opts.width, opts.height, err = parseFigsize(*figsize)
	if err != nil {
		return 2
	}
	opts.svg = strings.HasSuffix(strings.ToLower(*outputPath), ".svg")

	if !cmd.runlocal {
		runner := cmd.Runner("integra plot", 4<<30, 1)
		err = runner.TranslatePaths(scoresFile)
		if err != nil {
			return 1
		}
		outname := filepath.Base(*outputPath)
		runner.Args = []string{"plot", "-local=true",
			"-scores-file=" + *scoresFile,
			"-output-path=/mnt/output/" + outname,
			"-figsize=" + *figsize,
			"-xlabel=" + opts.xlabel,
			"-ylabel=" + opts.ylabel,
			"-fontsize=" + fmt.Sprintf("%g", opts.fontSize),
			"-axis=" + opts.axis,
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
	var graph *chart.Chart
	graph, err = scatterPlot(m, opts)
	if err != nil {
		return 1
	}
	err = writeOutput(*outputPath, stdout, func(w io.Writer) error {
		if opts.svg {
			return graph.Render(chart.SVG, w)
		}
		return graph.Render(chart.PNG, w)
	})
	if err != nil {
		return 1
	}
	log.Infof("wrote %s", *outputPath)
	return 0
}

type plotOptions struct {
	// figure size in inches
	width, height float64
	xlabel        string
	ylabel        string
	fontSize      float64
	axis          string
	svg           bool
}

func parseFigsize(s string) (w, h float64, err error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) == 2 {
		w, err = strconv.ParseFloat(parts[0], 64)
		if err == nil {
			h, err = strconv.ParseFloat(parts[1], 64)
		}
		if err == nil && w > 0 && h > 0 {
			return w, h, nil
		}
	}
	return 0, 0, fmt.Errorf("invalid figure size %q: expected WxH in inches, e.g., 10x6", s)
}

// scatterPlot draws one series per gene against sample IDs, or (if
// opts.axis is not patient_id) one series per sample against gene
// names. Missing scores are not drawn.
func scatterPlot(m *scoreMatrix, opts plotOptions) (*chart.Chart, error) {
	// value(series, x) is the score plotted at category x
	categories, seriesNames := m.samples, m.genes
	value := func(series, x int) float64 { return m.values[series][x] }
	if opts.axis != idColumn {
		categories, seriesNames = m.genes, m.samples
		value = func(series, x int) float64 { return m.values[x][series] }
	}
	if len(categories) == 0 || len(seriesNames) == 0 {
		return nil, errEmptyMatrix
	}

	ymin, ymax := math.Inf(1), math.Inf(-1)
	var series []chart.Series
	for s, name := range seriesNames {
		var xs, ys []float64
		for x := range categories {
			y := value(s, x)
			if math.IsNaN(y) || math.IsInf(y, 0) {
				continue
			}
			xs = append(xs, float64(x))
			ys = append(ys, y)
			ymin = math.Min(ymin, y)
			ymax = math.Max(ymax, y)
		}
		if len(xs) == 0 {
			log.Debugf("series %q has no values, not plotting", name)
			continue
		}
		series = append(series, chart.ContinuousSeries{
			Name:    name,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    3,
			},
		})
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no scores to plot", ErrMalformedInput)
	}
	if ymin == ymax {
		// a flat range can't be scaled
		pad := math.Max(math.Abs(ymin)/2, 1)
		ymin, ymax = ymin-pad, ymax+pad
	}

	// go-chart takes the x range from the ticks, so unlabeled end
	// ticks provide the half-category margin on each side.
	ticks := make([]chart.Tick, 0, len(categories)+2)
	ticks = append(ticks, chart.Tick{Value: -0.5})
	for x, label := range categories {
		ticks = append(ticks, chart.Tick{Value: float64(x), Label: label})
	}
	ticks = append(ticks, chart.Tick{Value: float64(len(categories)) - 0.5})
	tickStyle := chart.Style{
		FontSize:            opts.fontSize,
		TextRotationDegrees: 90,
	}
	graph := &chart.Chart{
		Width:  int(opts.width * plotDPI),
		Height: int(opts.height * plotDPI),
		DPI:    plotDPI,
		XAxis: chart.XAxis{
			Name:      opts.xlabel,
			TickStyle: tickStyle,
			Ticks:     ticks,
		},
		YAxis: chart.YAxis{
			Name:      opts.ylabel,
			TickStyle: chart.Style{FontSize: opts.fontSize},
			Range:     &chart.ContinuousRange{Min: ymin, Max: ymax},
		},
		Series: series,
	}
	if len(series) <= 20 {
		graph.Elements = []chart.Renderable{chart.Legend(graph)}
	}
	return graph, nil
}
