// Package guardrail provides the risk-classification and approval gate.
//
// Key concepts:
//   - Tier: policy verdict for a (tool, action) pair
//   - PolicyTable: policy-as-data mapping, fail-closed for unmapped entries
//   - Engine: evaluates pending steps and records every decision
//   - ApprovalService: human-in-the-loop suspension with TTL expiry
package guardrail

import (
	"fmt"
	"strings"
	"sync"
)

// Tier is a risk tier from the policy table.
type Tier string

const (
	TierAutoApprove     Tier = "auto_approve"
	TierLogAndApprove   Tier = "log_and_approve"
	TierRequireApproval Tier = "require_approval"
	TierDeny            Tier = "deny"
)

// TierFromString parses a tier string.
func TierFromString(value string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "auto_approve":
		return TierAutoApprove, nil
	case "log_and_approve":
		return TierLogAndApprove, nil
	case "require_approval":
		return TierRequireApproval, nil
	case "deny":
		return TierDeny, nil
	default:
		return "", fmt.Errorf("invalid risk tier '%s'. Must be one of: auto_approve, log_and_approve, require_approval, deny", value)
	}
}

// Blocks reports whether this tier halts execution outright.
func (t Tier) Blocks() bool {
	return t == TierDeny
}

// Wildcard matches any action for a tool in the policy table.
const Wildcard = "*"

// PolicyTable maps (toolName, actionKind) to a risk tier.
//
// Lookups fall back from the specific action to the tool's wildcard entry.
// Unmapped pairs default to the most restrictive tier, require_approval:
// the table fails closed, never open.
type PolicyTable struct {
	mu    sync.RWMutex
	rules map[string]map[string]Tier

	// SerializeTiers lists tiers that must not run concurrently with one
	// another. The conservative default serializes require_approval steps;
	// an empty list is the permissive configuration.
	serializeTiers map[Tier]bool
}

// NewPolicyTable creates an empty table with the conservative conflict rule.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{
		rules:          make(map[string]map[string]Tier),
		serializeTiers: map[Tier]bool{TierRequireApproval: true},
	}
}

// Set adds or replaces a rule.
func (p *PolicyTable) Set(toolName, action string, tier Tier) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rules[toolName] == nil {
		p.rules[toolName] = make(map[string]Tier)
	}
	p.rules[toolName][action] = tier
}

// SetSerializeTiers replaces the conflict rule.
func (p *PolicyTable) SetSerializeTiers(tiers []Tier) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.serializeTiers = make(map[Tier]bool, len(tiers))
	for _, t := range tiers {
		p.serializeTiers[t] = true
	}
}

// Lookup resolves the tier for a (toolName, action) pair.
// The mapped
// boolean reports whether an explicit rule matched.
func (p *PolicyTable) Lookup(toolName, action string) (tier Tier, mapped bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if actions, ok := p.rules[toolName]; ok {
		if t, ok := actions[action]; ok {
			return t, true
		}
		if t, ok := actions[Wildcard]; ok {
			return t, true
		}
	}
	return TierRequireApproval, false
}

// Serialized reports whether steps of this tier are mutually exclusive.
func (p *PolicyTable) Serialized(tier Tier) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.serializeTiers[tier]
}

// Rules returns a copy of the rule map, for display.
func (p *PolicyTable) Rules() map[string]map[string]Tier {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]map[string]Tier, len(p.rules))
	for tool, actions := range p.rules {
		out[tool] = make(map[string]Tier, len(actions))
		for action, tier := range actions {
			out[tool][action] = tier
		}
	}
	return out
}

// DefaultPolicyTable returns the stock policy shipped with the engine.
// Read operations auto-approve, writes are logged, repository creation and
// deletion require a human, and code execution always requires a human.
func DefaultPolicyTable() *PolicyTable {
	p := NewPolicyTable()

	p.Set("github", "read", TierAutoApprove)
	p.Set("github", "create_file", TierLogAndApprove)
	p.Set("github", "create_issue", TierLogAndApprove)
	p.Set("github", "create_repo", TierRequireApproval)

	p.Set("filesystem", "read", TierAutoApprove)
	p.Set("filesystem", "list", TierAutoApprove)
	p.Set("filesystem", "write", TierLogAndApprove)
	p.Set("filesystem", "mkdir", TierLogAndApprove)
	p.Set("filesystem", "delete", TierRequireApproval)

	p.Set("web_search", Wildcard, TierAutoApprove)
	p.Set("code_executor", Wildcard, TierRequireApproval)

	return p
}
