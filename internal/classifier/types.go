// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier is a reusable regex-based text classifier: "does
// this text match any of a named set of patterns". The Orchestrator's
// refusal guard (guard 4) uses it through MatchAny("refusal", ...). The
// embedded set also defines protocol_tag patterns, but the format-error
// guard (guard 3) and the Response Parser use internal/parser's own
// regular expressions instead.
package classifier

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// ConfidenceLevel grades how certain a pattern match is.
type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("classifier: invalid confidence %q", incoming)
	}
}

// Pattern is one named regex within a Classification.
type Pattern struct {
	ID              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

// Classification groups related patterns under one name and priority.
type Classification struct {
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description"`
	Priority         int              `yaml:"priority"`
	Patterns         []Pattern        `yaml:"patterns"`
	CompiledPatterns []*regexp.Regexp `yaml:"-"`
}

// File is the top-level shape of a classifier definition file.
type File struct {
	Classifications []Classification `yaml:"classifications"`
}

// CompileRegexes compiles every pattern's Regex field, failing fast on
// the first invalid one.
func (f *File) CompileRegexes() error {
	for i := range f.Classifications {
		for j := range f.Classifications[i].Patterns {
			pattern := &f.Classifications[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("classifier: failed to compile regex %s: %w", pattern.Regex, err)
			}
			f.Classifications[i].CompiledPatterns = append(f.Classifications[i].CompiledPatterns, re)
			pattern.compiledPattern = re
		}
	}
	return nil
}

// SortByPriority orders classifications from highest to lowest priority.
func (f *File) SortByPriority() {
	sort.Slice(f.Classifications, func(i, j int) bool {
		return f.Classifications[i].Priority > f.Classifications[j].Priority
	})
}

// Match is one pattern hit against a piece of text.
type Match struct {
	ClassificationName string
	PatternID          string
	Confidence         ConfidenceLevel
	MatchedText         string
}
