// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package extractor

import (
	"math"
	"sort"
)

// sampleStats are the eight descriptive statistics the dwell and flight
// feature groups share (spec §4.4 table): mean, population std, min, max,
// median, q25, q75, range. Empty input yields all zeros (spec §4.4
// "Quantile rule").
type sampleStats struct {
	mean, std, min, max, median, q25, q75, rng float64
}

func computeSampleStats(samples []float64) sampleStats {
	if len(samples) == 0 {
		return sampleStats{}
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sqSum float64
	for _, v := range sorted {
		d := v - mean
		sqSum += d * d
	}
	std := math.Sqrt(sqSum / float64(len(sorted)))

	min, max := sorted[0], sorted[len(sorted)-1]

	return sampleStats{
		mean:   mean,
		std:    std,
		min:    min,
		max:    max,
		median: quantile(sorted, 0.5),
		q25:    quantile(sorted, 0.25),
		q75:    quantile(sorted, 0.75),
		rng:    max - min,
	}
}

// quantile computes p (in [0,1]) over an already-sorted slice using
// linear interpolation between order statistics (spec §4.4 "Quantile
// rule").
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

func populationStd(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	m := mean(samples)
	var sqSum float64
	for _, v := range samples {
		d := v - m
		sqSum += d * d
	}
	return math.Sqrt(sqSum / float64(len(samples)))
}

func maxOf(samples []float64) float64 {
	m := 0.0
	for i, v := range samples {
		if i == 0 || v > m {
			m = v
		}
	}
	return m
}
