package orchestrator

import (
	"fmt"
	"strings"
)

// outputFormat is appended to every member prompt so raw executor output
// arrives in the labeled form the normalizer expects.
const outputFormat = `Respond with exactly these labeled fields:
SUMMARY: <one line>
CLAIM: <your main claim>
EVIDENCE:
- <supporting item>
CONFIDENCE: <0.0-1.0>
RESULT:
<full answer>
NEXT_STEP: <follow-up or "none">`

// buildPrompt assembles the dispatch prompt for one member. commContext is
// empty in the initial phase.
func buildPrompt(task, sharedContext, role, commContext string) string {
	var b strings.Builder
	if role != "" {
		fmt.Fprintf(&b, "You are the %s on an agent team.\n\n", role)
	}
	fmt.Fprintf(&b, "TASK: %s\n", task)
	if sharedContext != "" {
		fmt.Fprintf(&b, "\nSHARED_CONTEXT:\n%s\n", sharedContext)
	}
	if commContext != "" {
		b.WriteString("\nYour partners reported the following. Address their claims, referencing each partner by id where you agree or disagree.\n\n")
		b.WriteString(commContext)
	}
	b.WriteString("\n")
	b.WriteString(outputFormat)
	return b.String()
}
