// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/relaymind/agentcore/internal/errkind"
)

const (
	maxRetryAttempts = 10
	baseBackoff      = 200 * time.Millisecond
	maxBackoff       = 10 * time.Second
)

// withRetry runs op up to maxRetryAttempts times with exponential
// backoff and jitter, grounded on the defensive HTTP-error handling
// the teacher's ollama_llm.go and anthropic_llm.go each reimplement
// per-backend; here it is factored into one shared helper. Transient
// kinds (errkind.Kind.Transient) and Server errors (provider 5xx) are
// retried; any other *errkind.Error is returned at once. On final
// failure it returns an *errkind.Error tagged Transport, per §4.2's
// guarantee that retry exhaustion surfaces as a transport error.
func withRetry(ctx context.Context, label string, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		var kindErr *errkind.Error
		if errors.As(lastErr, &kindErr) && !kindErr.Kind.Transient() && kindErr.Kind != errkind.Server {
			return lastErr
		}
		if attempt == maxRetryAttempts-1 {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * baseBackoff
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		wait := backoff + jitter
		slog.Warn("llm call failed, retrying", "label", label, "attempt", attempt+1, "wait", wait, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return errkind.New(errkind.Transport, label+": exhausted retries: "+lastErr.Error())
}
