// Package repository implements the relational store: hand-written SQL over
// the pooled database handle for events, rules, correlations, bookmarks,
// templates, timeline aggregates and dead letters.
package repository

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint (dedup key, rule (event_id, channel), template name).
	ErrDuplicate = errors.New("duplicate")
)
