// Package ratelimit implements the sliding-window, per-source-IP
// request limiter applied at the HTTP entry point:
// N requests per W seconds, set by REPUB_RATE_LIMIT_REQUESTS and
// REPUB_RATE_LIMIT_WINDOW_SECONDS (pkg/config), returning
// 429 with Retry-After when exceeded. RedisLimiter offers a
// fixed-window variant backed by Redis for deployments running more
// than one registry instance behind a shared counter.
package ratelimit
