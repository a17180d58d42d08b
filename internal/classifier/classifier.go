// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classifier

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// Classifier scans text against a prioritized set of named regex
// patterns and reports every classification that matched.
type Classifier struct {
	classifications []Classification
}

// New builds a Classifier from the given pattern definitions.
func New(f File) (*Classifier, error) {
	if err := f.CompileRegexes(); err != nil {
		return nil, err
	}
	f.SortByPriority()
	return &Classifier{classifications: f.Classifications}, nil
}

// NewDefault builds a Classifier from the patterns embedded in the
// binary (refusal phrases and stray protocol tags), mirroring the
// teacher's embed-policy-at-compile-time approach.
func NewDefault() (*Classifier, error) {
	var f File
	if err := yaml.Unmarshal(defaultPatterns, &f); err != nil {
		return nil, fmt.Errorf("classifier: unmarshal embedded patterns: %w", err)
	}
	return New(f)
}

// MatchAny reports whether text matches any pattern under the named
// classification (e.g. "refusal", "protocol_tag").
func (c *Classifier) MatchAny(classification, text string) bool {
	for _, cl := range c.classifications {
		if cl.Name != classification {
			continue
		}
		for _, re := range cl.CompiledPatterns {
			if re.MatchString(text) {
				return true
			}
		}
	}
	return false
}

// Scan runs every classification's patterns against text and returns
// every match found, ordered by classification priority.
func (c *Classifier) Scan(text string) []Match {
	var matches []Match
	for _, cl := range c.classifications {
		for _, p := range cl.Patterns {
			if p.compiledPattern == nil {
				continue
			}
			if loc := p.compiledPattern.FindString(text); loc != "" {
				matches = append(matches, Match{
					ClassificationName: cl.Name,
					PatternID:          p.ID,
					Confidence:         p.Confidence,
					MatchedText:        loc,
				})
			}
		}
	}
	return matches
}
