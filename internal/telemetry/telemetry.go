// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry initializes the process-wide OpenTelemetry
// TracerProvider that internal/llm and internal/tools record spans
// against. Without a call to Init, otel.Tracer calls elsewhere in the
// engine are harmless no-ops; Init is what makes them real.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Init registers a TracerProvider against the given OTLP/gRPC
// collector endpoint, or against stdout when endpoint is empty — the
// same otlp-vs-stdout split the teacher's telemetry package offers,
// generalized here to a single required choice rather than a third
// "none" option, since this engine always wants span output somewhere.
func Init(ctx context.Context, serviceName, endpoint string) (func(context.Context), error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	var cleanup func(context.Context)

	if endpoint == "" {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: building stdout exporter: %w", err)
		}
		exporter = exp
		cleanup = func(ctx context.Context) { _ = exp.Shutdown(ctx) }
	} else {
		conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("telemetry: dialing collector %s: %w", endpoint, err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("telemetry: building OTLP exporter: %w", err)
		}
		exporter = exp
		cleanup = func(ctx context.Context) {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_ = exp.Shutdown(shutdownCtx)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		_ = tp.Shutdown(ctx)
		cleanup(ctx)
	}, nil
}
