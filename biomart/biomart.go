// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package biomart queries an Ensembl BioMart martservice endpoint and
// returns the tab-separated result.
package biomart

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/context/ctxhttp"
)

const DefaultURL = "http://www.ensembl.org/biomart/martservice"

var ErrQuery = errors.New("biomart query failed")

type Client struct {
	// martservice endpoint; DefaultURL if empty
	URL    string
	Client *http.Client
}

type query struct {
	XMLName              xml.Name `xml:"Query"`
	VirtualSchemaName    string   `xml:"virtualSchemaName,attr"`
	Formatter            string   `xml:"formatter,attr"`
	Header               string   `xml:"header,attr"`
	UniqueRows           string   `xml:"uniqueRows,attr"`
	DatasetConfigVersion string   `xml:"datasetConfigVersion,attr"`
	Dataset              struct {
		Name       string      `xml:"name,attr"`
		Interface  string      `xml:"interface,attr"`
		Attributes []attribute `xml:"Attribute"`
	}
}

type attribute struct {
	Name string `xml:"name,attr"`
}

func buildQuery(dataset string, attributes []string, unique bool) ([]byte, error) {
	q := query{
		VirtualSchemaName:    "default",
		Formatter:            "TSV",
		Header:               "1",
		UniqueRows:           "0",
		DatasetConfigVersion: "0.6",
	}
	if unique {
		q.UniqueRows = "1"
	}
	q.Dataset.Name = dataset
	q.Dataset.Interface = "default"
	for _, attr := range attributes {
		q.Dataset.Attributes = append(q.Dataset.Attributes, attribute{Name: attr})
	}
	buf, err := xml.Marshal(q)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header+"<!DOCTYPE Query>"), buf...), nil
}

// Query requests the given attributes of every record in dataset.
// The returned reader yields TSV with a header row of attribute
// display names (e.g., "Gene name" for external_gene_name). The
// caller must close it.
func (bm *Client) Query(ctx context.Context, dataset string, attributes []string, unique bool) (io.ReadCloser, error) {
	if len(attributes) == 0 {
		return nil, fmt.Errorf("%w: no attributes requested", ErrQuery)
	}
	q, err := buildQuery(dataset, attributes, unique)
	if err != nil {
		return nil, err
	}
	endpoint := bm.URL
	if endpoint == "" {
		endpoint = DefaultURL
	}
	client := bm.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := ctxhttp.Get(ctx, client, endpoint+"?query="+url.QueryEscape(string(q)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrQuery, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: %s", ErrQuery, endpoint, resp.Status)
	}
	// martservice reports errors in a 200 response body
	rdr := bufio.NewReader(resp.Body)
	peek, _ := rdr.Peek(64)
	if bytes.HasPrefix(peek, []byte("Query ERROR")) {
		msg, _ := io.ReadAll(io.LimitReader(rdr, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrQuery, strings.TrimSpace(string(msg)))
	}
	return readCloser{rdr, resp.Body}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
