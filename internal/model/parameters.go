// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// PARAMETER RANGES
// =============================================================================

// Range is an inclusive numeric bound for a parameter, also published to
// clients so sliders can be drawn with the same limits.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Parameter ranges accepted by Validate.
var (
	TemperatureRange = Range{Min: 0, Max: 1, Step: 0.1}
	TopPRange        = Range{Min: 0, Max: 1, Step: 0.05}
	TopKRange        = Range{Min: 1, Max: 100, Step: 1}
	MaxTokensRange   = Range{Min: 256, Max: 4096, Step: 256}
)

// =============================================================================
// PARAMETERS
// =============================================================================

// Parameters is the generation configuration in effect for one call.
// It is a plain value so each Exchange carries its own copy.
type Parameters struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	MaxTokens   int     `json:"max_tokens"`
}

// DefaultParameters returns the stock sampling settings.
func DefaultParameters() Parameters {
	return Parameters{
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        40,
		MaxTokens:   2048,
	}
}

// ParameterError lists every out-of-range field.
type ParameterError struct {
	Problems []string
}

func (e *ParameterError) Error() string {
	return "invalid parameters: " + strings.Join(e.Problems, "; ")
}

// Validate checks every field against its range.
func (p Parameters) Validate() error {
	var problems []string
	check := func(name string, v float64, r Range) {
		if v < r.Min || v > r.Max {
			problems = append(problems, fmt.Sprintf("%s=%g outside [%g, %g]", name, v, r.Min, r.Max))
		}
	}
	check("temperature", p.Temperature, TemperatureRange)
	check("top_p", p.TopP, TopPRange)
	check("top_k", float64(p.TopK), TopKRange)
	check("max_tokens", float64(p.MaxTokens), MaxTokensRange)

	if len(problems) > 0 {
		return &ParameterError{Problems: problems}
	}
	return nil
}

// String renders the annotation used in narrative exports and the CLI.
func (p Parameters) String() string {
	return fmt.Sprintf("temp=%g, top_p=%g, top_k=%d, max_tokens=%d",
		p.Temperature, p.TopP, p.TopK, p.MaxTokens)
}
