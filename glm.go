// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

func standardize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	if std == 0 || math.IsNaN(std) {
		return
	}
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// pvalueGLM fits two logistic regressions of isCase, one on the
// covariates alone and one on the covariates plus scores, and returns
// the likelihood ratio test p-value for the scores term.
//
// covariates[j][i] is the value of covariate j for sample i. Samples
// whose score is NaN are left out of both fits. If either fit fails
// (typically because the design matrix is singular) the result is
// NaN.
func pvalueGLM(isCase []bool, covariates [][]float64, scores []float64) (p float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			p = math.NaN()
		}
	}()

	var outcome, constants, score []statmodel.Dtype
	covs := make([][]statmodel.Dtype, len(covariates))
	for i, cc := range isCase {
		if math.IsNaN(scores[i]) {
			continue
		}
		if cc {
			outcome = append(outcome, 1)
		} else {
			outcome = append(outcome, 0)
		}
		constants = append(constants, 1)
		score = append(score, scores[i])
		for j := range covariates {
			covs[j] = append(covs[j], covariates[j][i])
		}
	}
	if len(outcome) == 0 {
		return math.NaN()
	}
	standardize(score)
	for _, series := range covs {
		standardize(series)
	}

	data := append([][]statmodel.Dtype{outcome, constants}, covs...)
	names := []string{"outcome", "constants"}
	for j := range covs {
		names = append(names, fmt.Sprintf("covariate%d", j))
	}
	model, err := glm.NewGLM(statmodel.NewDataset(data, names), "outcome", names[1:], glmConfig)
	if err != nil {
		return math.NaN()
	}
	logCov := model.Fit().LogLike()

	data = append([][]statmodel.Dtype{outcome, score}, data[1:]...)
	names = append([]string{"outcome", "score"}, names[1:]...)
	model, err = glm.NewGLM(statmodel.NewDataset(data, names), "outcome", names[1:], glmConfig)
	if err != nil {
		return math.NaN()
	}
	logComp := model.Fit().LogLike()
	dist := distuv.ChiSquared{K: 1}
	return dist.Survival(-2 * (logCov - logComp))
}
