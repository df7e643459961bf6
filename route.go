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
	"strconv"
	"strings"
)

// RouteParams substitutes placeholders in a path template. GuildID,
// ChannelID and WebhookID are rate-limit-significant and participate in
// the bucket key; any other named parameter only affects ResolvedPath.
type RouteParams struct {
	GuildID   uint64
	ChannelID uint64
	WebhookID uint64

	// Extra holds additional `{name}` substitutions that do not affect
	// bucket identity (e.g. message_id, user_id).
	Extra map[string]string
}

// Route is an immutable value describing one HTTP endpoint invocation.
// Two routes belong to the same rate-limit bucket iff their BucketKey is
// equal (Testable Property #1): the resolved URL never influences it.
type Route struct {
	Method       string
	PathTemplate string
	ResolvedPath string
	BucketKey    string
}

// NewRoute builds a Route from an HTTP method, a path template (e.g.
// "/channels/{channel_id}/messages") and its substitution parameters.
// Construction never fails: unknown placeholders are left untouched in
// ResolvedPath. BucketKey depends only on GuildID/ChannelID/WebhookID and
// pathTemplate, per §3: "{guild}-{channel}-{webhook}::{path_template}".
func NewRoute(method, pathTemplate string, params RouteParams) Route {
	resolved := pathTemplate
	resolved = strings.ReplaceAll(resolved, "{guild_id}", strconv.FormatUint(params.GuildID, 10))
	resolved = strings.ReplaceAll(resolved, "{channel_id}", strconv.FormatUint(params.ChannelID, 10))
	resolved = strings.ReplaceAll(resolved, "{webhook_id}", strconv.FormatUint(params.WebhookID, 10))
	for name, value := range params.Extra {
		resolved = strings.ReplaceAll(resolved, "{"+name+"}", value)
	}

	bucketKey := strconv.FormatUint(params.GuildID, 10) + "-" +
		strconv.FormatUint(params.ChannelID, 10) + "-" +
		strconv.FormatUint(params.WebhookID, 10) + "::" + pathTemplate

	return Route{
		Method:       method,
		PathTemplate: pathTemplate,
		ResolvedPath: resolved,
		BucketKey:    bucketKey,
	}
}
