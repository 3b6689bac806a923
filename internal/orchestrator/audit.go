package orchestrator

import (
	"fmt"
	"strings"

	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/util"
)

const (
	// contextPreviewLimit bounds the single-line context excerpt stored in
	// audit entries.
	contextPreviewLimit = 200

	// communicationFieldLimit bounds each extracted partner field in a
	// communication context.
	communicationFieldLimit = 320

	// communicationOtherLimit bounds the aggregate RESULT portion of a
	// communication context.
	communicationOtherLimit = 1200
)

// PartnerSnapshot captures what a member was shown about one partner when
// its communication context was assembled.
type PartnerSnapshot struct {
	MemberID   string        `json:"memberId"`
	Status     member.Status `json:"status"`
	Summary    string        `json:"summary"`
	Claim      string        `json:"claim"`
	Confidence float64       `json:"confidence"`
}

// AuditEntry records one (round, member) communication dispatch: which
// partners fed the context, which of them the output actually referenced,
// and a bounded preview of the context itself. Entries are append-only.
type AuditEntry struct {
	Round              int               `json:"round"`
	MemberID           string            `json:"memberId"`
	Role               string            `json:"role"`
	PartnerIDs         []string          `json:"partnerIds"`
	ReferencedPartners []string          `json:"referencedPartners"`
	MissingPartners    []string          `json:"missingPartners"`
	ContextPreview     string            `json:"contextPreview"`
	PartnerSnapshots   []PartnerSnapshot `json:"partnerSnapshots"`
	ResultStatus       member.Status     `json:"resultStatus"`
	ClaimReferences    []string          `json:"claimReferences,omitempty"`
}

// buildCommunicationContext renders the partners' previous-round outputs
// into the sanitized excerpt block a member sees in a communication round.
// Failed partners contribute a one-line failure note instead of fields.
func buildCommunicationContext(partners []string, results map[string]member.Result) (context string, snapshots []PartnerSnapshot) {
	var b strings.Builder
	var other []string

	b.WriteString("COMMUNICATION_CONTEXT:\n")
	for _, id := range partners {
		res, ok := results[id]
		if !ok {
			continue
		}
		snap := PartnerSnapshot{MemberID: id, Status: res.Status}
		if !res.Completed() {
			fmt.Fprintf(&b, "[partner %s] failed: %s\n", id, util.TruncateString(util.SingleLine(res.Error), communicationFieldLimit))
			snapshots = append(snapshots, snap)
			continue
		}

		fields := member.ParseFields(res.Output)
		snap.Summary = util.TruncateString(util.SingleLine(fields[member.LabelSummary]), communicationFieldLimit)
		snap.Claim = util.TruncateString(util.SingleLine(fields[member.LabelClaim]), communicationFieldLimit)
		snap.Confidence = res.Diagnostics.Confidence

		fmt.Fprintf(&b, "[partner %s]\n", id)
		for _, label := range []string{member.LabelSummary, member.LabelClaim, member.LabelEvidence, member.LabelConfidence} {
			if v := fields[label]; v != "" {
				fmt.Fprintf(&b, "%s: %s\n", label, util.TruncateString(util.SingleLine(v), communicationFieldLimit))
			}
		}
		if v := fields[member.LabelResult]; v != "" {
			other = append(other, fmt.Sprintf("[%s] %s", id, util.SingleLine(v)))
		}
		snapshots = append(snapshots, snap)
	}

	if len(other) > 0 {
		b.WriteString("DETAILS: ")
		b.WriteString(util.TruncateString(strings.Join(other, " | "), communicationOtherLimit))
		b.WriteString("\n")
	}
	return b.String(), snapshots
}

// detectPartnerReferences splits partners into those the output mentions
// (by id or role, case-insensitive) and those it omits. Order follows the
// partner list.
func detectPartnerReferences(output string, partners []string, roles map[string]string) (referenced, missing []string) {
	lower := strings.ToLower(output)
	referenced = []string{}
	missing = []string{}
	for _, id := range partners {
		found := strings.Contains(lower, strings.ToLower(id))
		if !found {
			if role := roles[id]; role != "" {
				found = strings.Contains(lower, strings.ToLower(role))
			}
		}
		if found {
			referenced = append(referenced, id)
		} else {
			missing = append(missing, id)
		}
	}
	return referenced, missing
}

// contextPreview collapses a communication context to the bounded
// single-line excerpt stored in audit entries.
func contextPreview(context string) string {
	return util.TruncateString(util.SingleLine(context), contextPreviewLimit)
}
