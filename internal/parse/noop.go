// Package parse holds results-page parsers. The production parser is
// maintained by the results-extraction team and plugged in at wiring time;
// this package carries the fallback used until one is configured.
package parse

import "github.com/localrank/gridrank/internal/rank"

// NoOp implements rank.ResultParser without extracting anything: every page
// parses cleanly with the target absent, so points record the sentinel rank.
type NoOp struct{}

// NewNoOp creates a NoOp parser.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// Parse reports an empty, unmatched ranking.
func (n *NoOp) Parse([]byte, string) (rank.Ranking, error) {
	return rank.Ranking{Matched: false}, nil
}
