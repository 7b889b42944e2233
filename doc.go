// Package storekit defines the shared types and helpers used by the storekit infrastructure
// components: the error taxonomy and retry classification, UUIDs, logging setup, context-aware
// sleeping, and the MetricsRecorder contract that components report operation outcomes through.
//
// The components themselves live in subpackages: errhandler (classified retry with backoff),
// metrics (operation aggregates, time series and percentiles), transaction (transaction
// lifecycle with bounded concurrency), health (periodic health aggregation) and cache
// (eviction cache for expensive artifacts). Package infra composes all of them into the
// bundle a storage backend is handed at construction time.
package storekit
