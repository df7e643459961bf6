/************************************************************************************
 *
 * ember, A Lightweight Go library for Discord-style gateway/HTTP clients
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 Marouane Souiri
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package ember

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies spans emitted by this module to whatever exporter
// the host application has configured. No exporter is wired here; the API
// is a no-op until the host registers a TracerProvider.
const tracerName = "github.com/emberhq/ember"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startHTTPSpan opens a span around one request() attempt loop.
func startHTTPSpan(ctx context.Context, route Route) (context.Context, trace.Span) {
	return tracer().Start(ctx, "ember.http.request",
		trace.WithAttributes(
			attribute.String("http.method", route.Method),
			attribute.String("http.route", route.PathTemplate),
			attribute.String("ember.bucket_key", route.BucketKey),
		),
	)
}

// startShardSpan opens a span around a shard lifecycle operation such as
// connect or dispatch.
func startShardSpan(ctx context.Context, shardID int, op string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "ember.gateway."+op,
		trace.WithAttributes(attribute.Int("ember.shard_id", shardID)),
	)
}
