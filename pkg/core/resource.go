package core

import (
	"fmt"
	"strings"
)

// Resource names one dataset extracted from the exchange.
type Resource string

// The fixed set of extractable resources.
const (
	ResourceExecutions      Resource = "executions"
	ResourceAccountLog      Resource = "account_log"
	ResourcePositionHistory Resource = "position_history"
	ResourceTickers         Resource = "tickers"
	ResourceOpenPositions   Resource = "open_positions"
)

// AllResources lists every resource in extraction order.
var AllResources = []Resource{
	ResourceExecutions,
	ResourceAccountLog,
	ResourcePositionHistory,
	ResourceTickers,
	ResourceOpenPositions,
}

// String returns the resource name.
func (r Resource) String() string {
	return string(r)
}

// Valid reports whether r belongs to the fixed resource set.
func (r Resource) Valid() bool {
	for _, known := range AllResources {
		if r == known {
			return true
		}
	}
	return false
}

// Disposition returns how the sink should write the resource.
func (r Resource) Disposition() WriteDisposition {
	switch r {
	case ResourceTickers, ResourceOpenPositions:
		return DispositionReplace
	default:
		return DispositionAppend
	}
}

// ParseResources converts names into resources, rejecting unknown ones.
// An empty input selects every resource.
func ParseResources(names []string) ([]Resource, error) {
	if len(names) == 0 {
		return append([]Resource(nil), AllResources...), nil
	}
	seen := make(map[Resource]bool, len(names))
	out := make([]Resource, 0, len(names))
	for _, name := range names {
		r := Resource(strings.TrimSpace(name))
		if r == "" {
			continue
		}
		if !r.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownResource, name)
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}

// WriteDisposition tells a sink whether to append rows or replace the table.
type WriteDisposition int

const (
	// DispositionAppend keeps existing rows and adds new ones.
	DispositionAppend WriteDisposition = iota
	// DispositionReplace discards previous rows on every run.
	DispositionReplace
)

// String returns "append" or "replace".
func (d WriteDisposition) String() string {
	return [...]string{"append", "replace"}[d]
}
