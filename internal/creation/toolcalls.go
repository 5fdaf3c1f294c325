package creation

import (
	"github.com/LettuceAI/creation-engine/internal/domain"
)

// unknownToolName is the placeholder for results whose call never arrived.
const unknownToolName = "Unknown Tool"

// ToolCallPair is one merged {call, result} view. Result is nil while the
// call is still executing; Synthesized marks a placeholder call fabricated
// for a dangling result.
type ToolCallPair struct {
	Call        domain.ToolCall
	Result      *domain.ToolResult
	Synthesized bool
}

// PairToolCalls derives the merged pairing list for one message. Every
// call appears exactly once, paired with its result when present. Every
// result lacking a matching call yields exactly one synthesized placeholder
// pair, so out-of-order delivery never drops a result silently.
func PairToolCalls(msg domain.Message) []ToolCallPair {
	resultByCall := make(map[string]*domain.ToolResult, len(msg.ToolResults))
	for i := range msg.ToolResults {
		r := &msg.ToolResults[i]
		// First result wins if the backend ever repeats one.
		if _, ok := resultByCall[r.ToolCallID]; !ok {
			resultByCall[r.ToolCallID] = r
		}
	}

	pairs := make([]ToolCallPair, 0, len(msg.ToolCalls))
	seen := make(map[string]bool, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		pairs = append(pairs, ToolCallPair{
			Call:   call,
			Result: resultByCall[call.ID],
		})
		seen[call.ID] = true
	}

	for i := range msg.ToolResults {
		r := &msg.ToolResults[i]
		if seen[r.ToolCallID] {
			continue
		}
		seen[r.ToolCallID] = true
		pairs = append(pairs, ToolCallPair{
			Call: domain.ToolCall{
				ID:   r.ToolCallID,
				Name: unknownToolName,
			},
			Result:      r,
			Synthesized: true,
		})
	}

	return pairs
}

// ToolLabel maps a tool name to its presentation label. The vocabulary is
// fixed by the backend contract, so this is a closed switch; anything else
// falls through to the raw name.
func ToolLabel(name string) string {
	switch name {
	case domain.ToolSetName:
		return "Naming the character"
	case domain.ToolSetDescription:
		return "Writing the description"
	case domain.ToolAddScene:
		return "Adding a scene"
	case domain.ToolGenerateImage:
		return "Generating an image"
	case domain.ToolShowPreview:
		return "Preparing the preview"
	default:
		return name
	}
}
