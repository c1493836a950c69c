// Package util provides common utility functions and constants used across
// termdock. This package is intentionally kept dependency-free (no imports
// from other internal/* packages) to serve as a shared foundation without
// introducing circular dependencies.
package util

import "time"

const (
	// MaxJumpDepth bounds recursive jump-host resolution. A chain deeper than
	// this (or one that revisits a connection id) is rejected before any
	// backend call is issued, so a misconfigured chain can never hang the
	// connect path. Used by: internal/registry (resolveConfig) and
	// internal/doctor (chain checks).
	MaxJumpDepth = 10

	// TransferRetention is how long a finished transfer stays in the visible
	// set after reaching a terminal status before it is removed automatically.
	// Used by: internal/transfers (Coordinator).
	TransferRetention = 5 * time.Second

	// BackendDialTimeout is the maximum time allowed to establish the
	// WebSocket connection to the backend process. Used by:
	// internal/gateway (wsclient) and internal/doctor (reachability check).
	BackendDialTimeout = 5 * time.Second

	// DefaultRefreshSeconds is the fallback interval for the TUI dashboard's
	// periodic refresh when config.yaml has a missing or invalid value.
	DefaultRefreshSeconds = 2
)
