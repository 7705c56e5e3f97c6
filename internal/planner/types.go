// Package planner turns the package graph into an ordered list of link
// actions given a resolution mode and deny/pin policy.
//
// A plan is deterministic: identical graph, policy, and mode always produce
// the exact same action list. Plans are immutable snapshots handed to the
// apply and freeze paths, and are persisted to last-plan.json so later
// commands can resume without rescanning.
package planner

import (
	"fmt"
	"time"

	"github.com/kb-labs/devlink/internal/graph"
	"github.com/kb-labs/devlink/internal/hash"
)

// Mode is the dependency resolution mode.
type Mode string

const (
	// ModeAuto links within a workspace root via the workspace protocol and
	// across roots via the link tool; everything else stays on npm.
	ModeAuto Mode = "auto"

	// ModeLocal links every dependency that resolves inside the index.
	ModeLocal Mode = "local"

	// ModeNpm routes every dependency to the public registry.
	ModeNpm Mode = "npm"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeLocal, ModeNpm:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want auto, local, or npm)", s)
}

// ActionKind is the kind of a planned link action.
type ActionKind string

const (
	// KindLinkLocal links the dependency from a sibling checkout.
	KindLinkLocal ActionKind = "link-local"

	// KindUseWorkspace pins the dependency to the workspace protocol.
	KindUseWorkspace ActionKind = "use-workspace"

	// KindUseNpm installs the dependency from the public registry.
	KindUseNpm ActionKind = "use-npm"

	// KindUnlink removes an active local link.
	KindUnlink ActionKind = "unlink"
)

// PinPolicy controls how versions are pinned when freezing.
type PinPolicy string

const (
	// PinExact freezes a concrete x.y.z version.
	PinExact PinPolicy = "exact"

	// PinCaret freezes a ^-prefixed range.
	PinCaret PinPolicy = "caret"
)

// ParsePin validates a pin policy string.
func ParsePin(s string) (PinPolicy, error) {
	switch PinPolicy(s) {
	case PinExact, PinCaret:
		return PinPolicy(s), nil
	}
	return "", fmt.Errorf("unknown pin policy %q (want exact or caret)", s)
}

// Policy is the deny/pin policy applied during planning and freezing.
type Policy struct {
	Pin PinPolicy `json:"pin"`

	// Deny lists dependency names or glob patterns that never produce actions.
	Deny []string `json:"deny,omitempty"`
}

// LinkAction is the atomic unit of a plan.
type LinkAction struct {
	// Target is the consumer package name.
	Target string `json:"target"`

	// Dep is the dependency package name.
	Dep string `json:"dep"`

	Kind ActionKind `json:"kind"`

	// Reason is free text explaining why the planner chose this action.
	Reason string `json:"reason,omitempty"`
}

// PlanPackage is the slim index snapshot a plan carries so apply and freeze
// can resolve package directories without rescanning the workspace.
type PlanPackage struct {
	Dir     string `json:"dir"`
	RootDir string `json:"rootDir"`
	Version string `json:"version,omitempty"`
	Private bool   `json:"private,omitempty"`
}

// DevLinkPlan is an immutable planning snapshot.
type DevLinkPlan struct {
	RootDir string `json:"rootDir"`
	Mode    Mode   `json:"mode"`

	Actions []LinkAction `json:"actions"`
	Policy  Policy       `json:"policy"`

	// Packages maps every indexed package name to its location snapshot.
	Packages map[string]PlanPackage `json:"packages"`

	Graph *graph.PackageGraph `json:"graph,omitempty"`

	Diagnostics []string `json:"diagnostics,omitempty"`

	// Fingerprint is a stable digest of mode, policy, and actions.
	Fingerprint string `json:"fingerprint"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// ActionsFor returns the plan's actions targeting the given consumer.
func (p *DevLinkPlan) ActionsFor(target string) []LinkAction {
	var out []LinkAction
	for _, a := range p.Actions {
		if a.Target == target {
			out = append(out, a)
		}
	}
	return out
}

// Targets returns the distinct consumer names in action order.
func (p *DevLinkPlan) Targets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range p.Actions {
		if !seen[a.Target] {
			seen[a.Target] = true
			out = append(out, a.Target)
		}
	}
	return out
}

// fingerprint digests everything that makes two plans equivalent. The
// generation time is deliberately excluded.
func fingerprint(mode Mode, policy Policy, actions []LinkAction) string {
	parts := []string{string(mode), string(policy.Pin)}
	parts = append(parts, policy.Deny...)
	for _, a := range actions {
		parts = append(parts, a.Target, a.Dep, string(a.Kind))
	}
	return hash.Digest64(parts...)
}
