package toolexecutor

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// ToolPolicy defines which tools the agent can use
type ToolPolicy struct {
	Allow []string `json:"allow" mapstructure:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny" mapstructure:"deny"`   // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		// No policy means allow all
		return true
	}

	// Check deny list first (overrides allow list)
	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	if len(tp.Allow) == 0 {
		return true
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	return false
}

// ValidatePolicy checks that every named tool exists in the executor
func ValidatePolicy(policy *ToolPolicy, te *ToolExecutor) error {
	if policy == nil {
		return nil
	}

	for _, list := range [][]string{policy.Allow, policy.Deny} {
		for _, name := range list {
			if name == "*" {
				continue
			}
			if te.GetTool(name) == nil {
				return fmt.Errorf("tool policy references unknown tool %q", name)
			}
		}
	}

	for _, denied := range policy.Deny {
		if denied == "*" {
			log.Warn().Msg("Tool policy denies every tool")
			break
		}
	}

	return nil
}
