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
	"time"

	"golang.org/x/time/rate"
)

// SendLimiter paces outbound shard writes (§4.F; default 120 per 60s). It
// is built on golang.org/x/time/rate.Limiter rather than a hand-rolled
// fixed-window counter: the limiter is seeded with rate.Every(per/limit)
// and a burst equal to limit, so it admits up to `limit` sends at once and
// then refills at one send every per/limit. It is not a strict fixed
// window: a span of length `per` that starts with a full bucket can admit
// up to about twice `limit` sends.
type SendLimiter struct {
	limiter *rate.Limiter
}

// NewSendLimiter creates a limiter with a burst of limit sends, refilled at
// a sustained rate of limit sends per per.
func NewSendLimiter(limit int, per time.Duration) *SendLimiter {
	interval := per / time.Duration(limit)
	return &SendLimiter{limiter: rate.NewLimiter(rate.Every(interval), limit)}
}

// Wait admits immediately while a token is available; otherwise blocks
// until the next token is refilled or ctx is cancelled, and returns an
// error at once if that wait would outlast ctx's deadline.
func (s *SendLimiter) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}
