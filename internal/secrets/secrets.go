// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets holds API credentials in mlocked memory so they are
// never swapped to disk and are wiped on process exit.
//
// This adapts the teacher's memguard usage from secure token
// accumulation (handlers/secure_accumulator.go, where memguard protects
// streamed answer tokens) to its more conventional purpose: protecting
// long-lived credentials loaded once at startup.
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
)

var initOnce sync.Once

func initMemguard() {
	initOnce.Do(func() {
		memguard.CatchInterrupt()
	})
}

// Store holds a fixed set of named secrets in locked buffers.
type Store struct {
	mu      sync.RWMutex
	buffers map[string]*memguard.LockedBuffer
}

// NewStore allocates an empty secret store.
func NewStore() *Store {
	initMemguard()
	return &Store{buffers: make(map[string]*memguard.LockedBuffer)}
}

// Set copies value into a freshly locked buffer under name, destroying
// any buffer previously held under that name.
func (s *Store) Set(name, value string) error {
	if value == "" {
		return nil
	}
	buf := memguard.NewBufferFromBytes([]byte(value))
	if buf == nil {
		return fmt.Errorf("secrets: failed to allocate locked buffer for %q", name)
	}
	buf.Melt()

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.buffers[name]; ok {
		old.Destroy()
	}
	s.buffers[name] = buf
	return nil
}

// Get returns the current value of a named secret, or "" if unset.
// Callers should not retain the returned string longer than necessary;
// Go cannot guarantee it is ever wiped from the heap, a limitation the
// teacher's own insecureTokenAccumulator documents as best-effort only.
func (s *Store) Get(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[name]
	if !ok {
		return ""
	}
	return string(buf.Bytes())
}

// Destroy wipes every held secret. Safe to call at shutdown.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, buf := range s.buffers {
		buf.Destroy()
		delete(s.buffers, name)
	}
}

// LoadFromEnv populates a Store from the environment variables that
// carry credentials in §6's configuration table, never logging values.
func LoadFromEnv() (*Store, error) {
	store := NewStore()
	for _, name := range []string{"API_KEY", "SUMMARY_LLM_API_KEY"} {
		v := os.Getenv(name)
		if v == "" && name == "SUMMARY_LLM_API_KEY" {
			v = os.Getenv("API_KEY")
		}
		if err := store.Set(name, v); err != nil {
			return nil, err
		}
	}
	slog.Debug("secrets loaded from environment", "keys", []string{"API_KEY", "SUMMARY_LLM_API_KEY"})
	return store, nil
}
