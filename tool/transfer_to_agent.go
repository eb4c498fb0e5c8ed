package tool

import (
	"fmt"
	"strings"
)

// TransferPrefix is the name prefix of the synthetic handoff tools offered
// to a model, one per handoff target.
const TransferPrefix = "transfer_to_"

// TransferToolName returns the handoff tool name for target.
func TransferToolName(target string) string { return TransferPrefix + target }

// TransferTarget extracts the target agent from a handoff tool name.
func TransferTarget(name string) (string, bool) {
	if !strings.HasPrefix(name, TransferPrefix) {
		return "", false
	}
	target := strings.TrimPrefix(name, TransferPrefix)
	return target, target != ""
}

// TransferParams is the argument schema of every handoff tool.
var TransferParams = map[string]Param{
	"reason": {
		Type:        TypeString,
		Description: "Why control is being transferred to this agent",
		Required:    true,
	},
}

// TransferDefinition returns the function declaration requesting a transfer
// of control to target. description is the target agent's own description,
// when known.
func TransferDefinition(target, description string) Definition {
	desc := fmt.Sprintf("Transfer control of the conversation to the %q agent.", target)
	if description != "" {
		desc += " " + description
	}
	return Definition{
		Name:        TransferToolName(target),
		Description: desc,
		Parameters:  Schema(TransferParams),
	}
}

// TransferReason reads the reason argument of a handoff call, if any.
func TransferReason(args map[string]any) string {
	if r, ok := args["reason"].(string); ok {
		return r
	}
	return ""
}
