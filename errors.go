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
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidArgument is returned when a caller-supplied option has no valid
// meaning, such as a RequestOptions.Expect outside the defined ExpectMode
// values. A middleware cannot hand back an invalid event: MiddlewareResult
// only carries Keep(event) or Drop().
var ErrInvalidArgument = errors.New("ember: invalid argument")

// ErrFatal is returned by the Controller when a shard reports a
// panic-class gateway close code (not authenticated, bad auth, bad
// version, bad intents, disallowed intents). The process should not retry; the caller must fix
// configuration and restart.
type ErrFatal struct {
	ShardID int
	Code    GatewayCloseCode
}

func (e *ErrFatal) Error() string {
	return fmt.Sprintf("ember: shard %d received fatal close code %d", e.ShardID, int(e.Code))
}

// HTTPError is the single shape for every failed HTTP exchange. Status
// carries the final HTTP status code observed. Response is the last
// *http.Response read, present whenever Status is nonzero. Message is an
// optional human-readable reason: the raw response body text for a
// non-retried 4xx, or a fixed description for 429 and 5xx failures.
//
// Every named constructor below (BadRequest, Unauthorized, ...) fills in
// Status; callers distinguish cases by inspecting Status or by using the
// Is* helpers, never by type-switching on a different struct shape per
// status code.
type HTTPError struct {
	Status   int
	Response *http.Response
	Message  string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ember: http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("ember: http %d", e.Status)
}

func newHTTPError(status int, resp *http.Response, msg string) *HTTPError {
	return &HTTPError{Status: status, Response: resp, Message: msg}
}

// BadRequest builds the HTTPError for a 400 response.
func BadRequest(resp *http.Response, msg string) *HTTPError {
	return newHTTPError(http.StatusBadRequest, resp, msg)
}

// Unauthorized builds the HTTPError for a 401 response.
func Unauthorized(resp *http.Response, msg string) *HTTPError {
	return newHTTPError(http.StatusUnauthorized, resp, msg)
}

// Forbidden builds the HTTPError for a 403 response.
func Forbidden(resp *http.Response, msg string) *HTTPError {
	return newHTTPError(http.StatusForbidden, resp, msg)
}

// NotFound builds the HTTPError for a 404 response.
func NotFound(resp *http.Response, msg string) *HTTPError {
	return newHTTPError(http.StatusNotFound, resp, msg)
}

// PayloadTooLarge builds the HTTPError for a 413 response.
func PayloadTooLarge(resp *http.Response, msg string) *HTTPError {
	return newHTTPError(http.StatusRequestEntityTooLarge, resp, msg)
}

// TooManyRequests builds the HTTPError for a 429 response. Raised only when
// the 429 came with no Via header (an edge-proxy block, never seen by
// Discord's API layer) or when retries are exhausted after respecting
// Discord's retry_after.
func TooManyRequests(resp *http.Response, msg string) *HTTPError {
	return newHTTPError(http.StatusTooManyRequests, resp, msg)
}

// ServerError builds the HTTPError for a 5xx response, raised only after
// retries are exhausted.
func ServerError(resp *http.Response, msg string) *HTTPError {
	status := http.StatusInternalServerError
	if resp != nil {
		status = resp.StatusCode
	}
	return newHTTPError(status, resp, msg)
}

// genericHTTPError maps an arbitrary non-2xx, non-429 status to an
// HTTPError. Used for the catch-all branch of the retry loop for 4xx codes
// that have no dedicated constructor above.
func genericHTTPError(status int, resp *http.Response, msg string) *HTTPError {
	return newHTTPError(status, resp, msg)
}

// IsNotFound reports whether err is an HTTPError for a 404.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsRateLimited reports whether err is an HTTPError for a 429.
func IsRateLimited(err error) bool { return hasStatus(err, http.StatusTooManyRequests) }

// IsUnauthorized reports whether err is an HTTPError for a 401.
func IsUnauthorized(err error) bool { return hasStatus(err, http.StatusUnauthorized) }

// IsForbidden reports whether err is an HTTPError for a 403.
func IsForbidden(err error) bool { return hasStatus(err, http.StatusForbidden) }

// IsServerError reports whether err is an HTTPError carrying a 5xx status.
func IsServerError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status >= 500
}

func hasStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == status
}
