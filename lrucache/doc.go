/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides a bounded in-memory cache with LRU eviction, per-entry expiration,
// an injectable clock and Prometheus metrics. It backs the in-memory idempotency store.
package lrucache
