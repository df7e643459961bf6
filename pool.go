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
	"sync"
)

// bytesPool provides reusable byte slices for reading HTTP response bodies.
// Using different sizes for different use cases reduces allocations on the
// hot path (§4.C).
var (
	// smallBytesPool for small payloads (< 4KB)
	smallBytesPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 4096)
			return &b
		},
	}

	// mediumBytesPool for medium payloads (< 64KB)
	mediumBytesPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 65536)
			return &b
		},
	}

	// largeBytesPool for large payloads (< 1MB)
	largeBytesPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 1048576)
			return &b
		},
	}
)

// AcquireBytes gets a byte slice from the appropriate pool based on size
// hint. The returned slice has len=0. A freshly allocated slice has its
// tier's capacity (4KB, 64KB or 1MB), so a hint above 1MB still gets a 1MB
// slice; a recycled slice may have less capacity than its tier.
func AcquireBytes(sizeHint int) *[]byte {
	if sizeHint <= 4096 {
		return smallBytesPool.Get().(*[]byte)
	} else if sizeHint <= 65536 {
		return mediumBytesPool.Get().(*[]byte)
	}
	return largeBytesPool.Get().(*[]byte)
}

// ReleaseBytes returns a byte slice to the appropriate pool. The slice is
// reset (len=0) but its capacity is preserved. Extremely large slices are
// dropped instead of pooled to avoid memory bloat.
func ReleaseBytes(b *[]byte) {
	if b == nil || *b == nil {
		return
	}

	*b = (*b)[:0]

	c := cap(*b)
	if c <= 4096 {
		smallBytesPool.Put(b)
	} else if c <= 65536 {
		mediumBytesPool.Put(b)
	} else if c <= 1048576 {
		largeBytesPool.Put(b)
	}
}
