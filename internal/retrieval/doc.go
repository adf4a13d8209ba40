// Package retrieval implements the resilient citation retrieval engine: the
// per-item state machine that drives fetch, classification and endpoint
// rotation, and the batch driver that owns the results sequence, pacing and
// checkpointing.
package retrieval
