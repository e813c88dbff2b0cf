// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package ranksum implements the two-sided Mann-Whitney U test.
package ranksum

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

type Method int

const (
	// Auto uses the exact distribution for small samples without
	// ties, and the normal approximation otherwise.
	Auto Method = iota
	Exact
	Asymptotic
)

// Auto mode uses the exact distribution when the smaller group has
// at most this many samples.
const exactThreshold = 8

// Exact mode refuses n1*n2 above this, since the frequency table
// grows with n1*n2*min(n1,n2).
const exactMaxCells = 1 << 16

var ErrEmptySample = errors.New("empty sample")

func (m Method) String() string {
	switch m {
	case Auto:
		return "auto"
	case Exact:
		return "exact"
	case Asymptotic:
		return "asymptotic"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

func ParseMethod(s string) (Method, error) {
	for _, m := range []Method{Auto, Exact, Asymptotic} {
		if m.String() == s {
			return m, nil
		}
	}
	return Auto, fmt.Errorf("unknown rank-sum method %q", s)
}

type Result struct {
	// U statistic of the first sample.
	U float64
	// Two-sided p-value.
	P float64
	// Method actually used (never Auto).
	Method Method
}

// MannWhitneyU compares samples x and y. NaN values must be removed
// by the caller.
func MannWhitneyU(x, y []float64, method Method) (Result, error) {
	n1, n2 := len(x), len(y)
	if n1 == 0 || n2 == 0 {
		return Result{}, ErrEmptySample
	}
	ranks, ties := rank(append(append(make([]float64, 0, n1+n2), x...), y...))
	r1 := 0.0
	for _, r := range ranks[:n1] {
		r1 += r
	}
	u1 := r1 - float64(n1*(n1+1))/2
	u2 := float64(n1*n2) - u1
	u := math.Max(u1, u2)

	if method == Auto {
		if len(ties) == 0 && (n1 <= exactThreshold || n2 <= exactThreshold) {
			method = Exact
		} else {
			method = Asymptotic
		}
	}
	res := Result{U: u1, Method: method}
	switch method {
	case Exact:
		if n1*n2 > exactMaxCells {
			return Result{}, fmt.Errorf("exact distribution for %d x %d samples is too large", n1, n2)
		}
		res.P = 2 * exactSurvival(int(math.Round(u)), n1, n2)
	case Asymptotic:
		res.P = 2 * asymptoticSurvival(u, n1, n2, ties)
	default:
		return Result{}, fmt.Errorf("unknown method %v", method)
	}
	if res.P > 1 {
		res.P = 1
	}
	return res, nil
}

// rank returns the average (1-based) rank of each value, and the size
// of each group of tied values.
func rank(data []float64) (ranks []float64, ties []int) {
	idx := make([]int, len(data))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return data[idx[i]] < data[idx[j]] })
	ranks = make([]float64, len(data))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && data[idx[j]] == data[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		if j-i > 1 {
			ties = append(ties, j-i)
		}
		i = j
	}
	return
}

func asymptoticSurvival(u float64, n1, n2 int, ties []int) float64 {
	n := float64(n1 + n2)
	mu := float64(n1*n2) / 2
	tieTerm := 0.0
	for _, t := range ties {
		tf := float64(t)
		tieTerm += tf*tf*tf - tf
	}
	sigma := math.Sqrt(float64(n1*n2) / 12 * ((n + 1) - tieTerm/(n*(n-1))))
	if sigma == 0 {
		// every value tied
		return 0.5
	}
	z := (u - mu - 0.5) / sigma
	return distuv.UnitNormal.Survival(z)
}

// exactSurvival returns P(U >= u) under the null hypothesis, counting
// the arrangements of n1 and n2 ranks that produce each U.
func exactSurvival(u, n1, n2 int) float64 {
	if n1 > n2 {
		n1, n2 = n2, n1
	}
	maxU := n1 * n2
	if u <= 0 {
		return 1
	} else if u > maxU {
		return 0
	}
	// freq[i][k] = number of ways to get U=k using i items from
	// the smaller group and j items from the larger one, updated
	// in place as j grows.
	freq := make([][]float64, n1+1)
	for i := range freq {
		freq[i] = make([]float64, maxU+1)
		freq[i][0] = 1
	}
	for j := 1; j <= n2; j++ {
		for i := 1; i <= n1; i++ {
			// f(i,j,k) = f(i-1,j,k-j) + f(i,j-1,k)
			// where freq[i] holds f(i,j-1,.) and freq[i-1]
			// already holds f(i-1,j,.).
			for k := j; k <= maxU; k++ {
				freq[i][k] += freq[i-1][k-j]
			}
		}
	}
	total, tail := 0.0, 0.0
	for k, f := range freq[n1] {
		total += f
		if k >= u {
			tail += f
		}
	}
	return tail / total
}
