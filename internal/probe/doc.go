// Package probe builds converge probes backed by the controller's
// RESTCONF API: status checks, JSON extraction with jq expressions, and
// canonical JSON snapshots for stability comparison.
package probe
