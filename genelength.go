// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/integra/integra/biomart"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

func init() {
	gocsv.FailIfUnmatchedStructTags = true
}

// GeneCoordinate is one row of a gene annotation table. The column
// names are the BioMart display names of the external_gene_name,
// start_position, and end_position attributes.
type GeneCoordinate struct {
	Name  string `csv:"Gene name"`
	Start int64  `csv:"Gene start (bp)"`
	End   int64  `csv:"Gene end (bp)"`
}

// A GeneLengthSource supplies gene coordinates for a species dataset
// (e.g., "hsapiens_gene_ensembl").
type GeneLengthSource interface {
	GeneCoordinates(ctx context.Context, dataset string) ([]GeneCoordinate, error)
}

// biomartSource looks up gene coordinates with a BioMart query.
type biomartSource struct {
	client *biomart.Client
}

func newBiomartSource(url string) *biomartSource {
	return &biomartSource{client: &biomart.Client{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Minute},
	}}
}

func (src *biomartSource) GeneCoordinates(ctx context.Context, dataset string) ([]GeneCoordinate, error) {
	log.Infof("fetching gene coordinates for %s from %s", dataset, src.client.URL)
	rdr, err := src.client.Query(ctx, dataset, []string{"external_gene_name", "start_position", "end_position"}, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRemoteLookup, err)
	}
	defer rdr.Close()
	coords, err := decodeGeneCoordinates(rdr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrRemoteLookup, dataset, err)
	}
	return coords, nil
}

// fileSource reads gene coordinates from a tab-separated file with
// the same columns as a BioMart response. The dataset is ignored.
type fileSource struct {
	path string
}

func (src fileSource) GeneCoordinates(ctx context.Context, dataset string) ([]GeneCoordinate, error) {
	buf, err := readFile(src.path)
	if err != nil {
		return nil, err
	}
	coords, err := decodeGeneCoordinates(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.path, err)
	}
	return coords, nil
}

func decodeGeneCoordinates(rdr io.Reader) ([]GeneCoordinate, error) {
	r := csv.NewReader(rdr)
	r.Comma = '\t'
	r.LazyQuotes = true
	var coords []GeneCoordinate
	err := gocsv.UnmarshalCSV(r, &coords)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedInput, err)
	}
	return coords, nil
}

// geneLengths returns the length of each gene in kilobases, rounded
// to 3 decimal places. If a gene name appears more than once, the
// last row wins.
func geneLengths(coords []GeneCoordinate) map[string]float64 {
	lengths := make(map[string]float64, len(coords))
	for _, gc := range coords {
		if gc.Name == "" {
			continue
		}
		kb, _ := stats.Round(float64(gc.End-gc.Start)/1000, 3)
		lengths[gc.Name] = kb
	}
	return lengths
}
