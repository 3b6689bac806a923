// Package judge computes the uncertainty proxy over member results and the
// deterministic final verdict for a team run.
package judge

import (
	"fmt"
	"strings"

	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/util"
)

// Verdict classifies the overall team result.
type Verdict string

const (
	VerdictConverged Verdict = "converged"
	VerdictPartial   Verdict = "partial"
	VerdictDiverged  Verdict = "diverged"
	VerdictFailed    Verdict = "failed"
)

// Collapse signal tags attached to the proxy.
const (
	SignalAllFailed         = "all-failed"
	SignalSingleVoice       = "single-voice"
	SignalConflictingClaims = "conflicting-claims"
	SignalLowEvidence       = "low-evidence"
)

const (
	// uInter thresholds for the converged / diverged boundaries.
	interLowThreshold  = 0.25
	interHighThreshold = 0.60

	// conflictingClaimsThreshold is the combined contradiction+conflict
	// count above which claims are flagged as conflicting.
	conflictingClaimsThreshold = 2

	// lowEvidenceMean flags runs whose completed members average fewer
	// evidence items than this.
	lowEvidenceMean = 1.0

	// signalStep is the uInter contribution per contradiction/conflict
	// signal, capped at signalCap.
	signalStep = 0.1
	signalCap  = 0.5

	// uSys combination weights.
	intraWeight  = 0.5
	interWeight  = 0.3
	failedWeight = 0.5

	reasonLimit   = 300
	nextStepLimit = 200
)

// Proxy is the uncertainty triple plus collapse signals, computed purely
// from member diagnostics.
type Proxy struct {
	UIntra          float64  `json:"uIntra"`
	UInter          float64  `json:"uInter"`
	USys            float64  `json:"uSys"`
	CollapseSignals []string `json:"collapseSignals"`
}

// FinalJudge is the verdict block attached to every finished run.
type FinalJudge struct {
	Verdict         Verdict  `json:"verdict"`
	Confidence      float64  `json:"confidence"`
	Reason          string   `json:"reason"`
	NextStep        string   `json:"nextStep"`
	UIntra          float64  `json:"uIntra"`
	UInter          float64  `json:"uInter"`
	USys            float64  `json:"uSys"`
	CollapseSignals []string `json:"collapseSignals"`
}

// ComputeProxy derives the uncertainty triple from member results. It is a
// pure function: identical inputs produce identical proxies.
func ComputeProxy(results []member.Result) Proxy {
	var completed []member.Result
	for _, r := range results {
		if r.Completed() {
			completed = append(completed, r)
		}
	}

	p := Proxy{
		UIntra: intraUncertainty(completed),
		UInter: interUncertainty(completed),
	}

	failedRatio := 0.0
	if len(results) > 0 {
		failedRatio = float64(len(results)-len(completed)) / float64(len(results))
	}
	p.USys = clamp01(intraWeight*p.UIntra + interWeight*p.UInter + failedWeight*failedRatio)
	p.CollapseSignals = collapseSignals(results, completed, p.UInter)
	return p
}

// intraUncertainty averages each completed member's confidence discounted by
// its evidence: members with no evidence contribute full uncertainty
// regardless of stated confidence.
func intraUncertainty(completed []member.Result) float64 {
	if len(completed) == 0 {
		return 1
	}
	sum := 0.0
	for _, r := range completed {
		e := float64(r.Diagnostics.EvidenceCount)
		support := e / (e + 1)
		sum += 1 - clamp01(r.Diagnostics.Confidence)*support
	}
	return clamp01(sum / float64(len(completed)))
}

// interUncertainty is the confidence spread plus a bounded contribution per
// contradiction/conflict signal. Undefined (zero) with fewer than two
// completed members.
func interUncertainty(completed []member.Result) float64 {
	if len(completed) < 2 {
		return 0
	}
	minConf, maxConf := 1.0, 0.0
	signals := 0
	for _, r := range completed {
		c := clamp01(r.Diagnostics.Confidence)
		minConf = min(minConf, c)
		maxConf = max(maxConf, c)
		signals += r.Diagnostics.ContradictionSignals + r.Diagnostics.ConflictSignals
	}
	return clamp01((maxConf - minConf) + min(signalCap, signalStep*float64(signals)))
}

// collapseSignals is built in a fixed order so identical inputs yield an
// identical tag list.
func collapseSignals(all, completed []member.Result, uInter float64) []string {
	var tags []string
	if len(all) > 0 && len(completed) == 0 {
		tags = append(tags, SignalAllFailed)
	}
	if len(completed) == 1 && len(all) > 1 {
		tags = append(tags, SignalSingleVoice)
	}
	signals := 0
	evidence := 0
	for _, r := range completed {
		signals += r.Diagnostics.ContradictionSignals + r.Diagnostics.ConflictSignals
		evidence += r.Diagnostics.EvidenceCount
	}
	if signals >= conflictingClaimsThreshold || uInter >= interHighThreshold {
		tags = append(tags, SignalConflictingClaims)
	}
	if len(completed) > 0 && float64(evidence)/float64(len(completed)) < lowEvidenceMean {
		tags = append(tags, SignalLowEvidence)
	}
	return tags
}

// Judge produces the deterministic verdict from member results. It never
// panics and never returns an error: the degenerate inputs all map to the
// failed verdict.
func Judge(results []member.Result) FinalJudge {
	proxy := ComputeProxy(results)

	var completed []member.Result
	for _, r := range results {
		if r.Completed() {
			completed = append(completed, r)
		}
	}

	fj := FinalJudge{
		UIntra:          proxy.UIntra,
		UInter:          proxy.UInter,
		USys:            proxy.USys,
		CollapseSignals: proxy.CollapseSignals,
	}

	switch {
	case len(completed) == 0:
		fj.Verdict = VerdictFailed
		fj.Confidence = 0
		fj.Reason = failureReason(results)
		fj.NextStep = "inspect member errors, then retry the run"

	case len(completed) == 1:
		fj.Verdict = VerdictPartial
		fj.Confidence = clamp01(completed[0].Diagnostics.Confidence * (1 - proxy.USys))
		fj.Reason = fmt.Sprintf("only %s completed out of %d members", completed[0].MemberID, len(results))
		fj.NextStep = "retry the failed members to corroborate the single result"

	case proxy.UInter < interLowThreshold:
		fj.Verdict = VerdictConverged
		fj.Confidence = clamp01(meanConfidence(completed) * (1 - proxy.USys))
		fj.Reason = fmt.Sprintf("%d members completed with agreeing claims", len(completed))
		fj.NextStep = "none"

	case proxy.UInter >= interHighThreshold:
		fj.Verdict = VerdictDiverged
		fj.Confidence = clamp01(meanConfidence(completed) * (1 - proxy.USys))
		fj.Reason = fmt.Sprintf("%d members completed but their claims disagree", len(completed))
		fj.NextStep = "reconcile the conflicting claims before acting on either"

	default:
		fj.Verdict = VerdictPartial
		fj.Confidence = clamp01(meanConfidence(completed) * (1 - proxy.USys))
		fj.Reason = fmt.Sprintf("%d of %d members completed with moderate disagreement", len(completed), len(results))
		fj.NextStep = "review the lower-confidence results"
	}

	fj.Reason = util.TruncateString(util.SingleLine(fj.Reason), reasonLimit)
	fj.NextStep = util.TruncateString(util.SingleLine(fj.NextStep), nextStepLimit)
	return fj
}

// failureReason folds distinct member error texts into a bounded one-liner.
func failureReason(results []member.Result) string {
	if len(results) == 0 {
		return "no member results"
	}
	seen := map[string]bool{}
	var parts []string
	for _, r := range results {
		msg := util.SingleLine(r.Error)
		if msg == "" || seen[msg] {
			continue
		}
		seen[msg] = true
		parts = append(parts, msg)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("all %d members failed", len(results))
	}
	return fmt.Sprintf("all %d members failed: %s", len(results), strings.Join(parts, "; "))
}

func meanConfidence(completed []member.Result) float64 {
	sum := 0.0
	for _, r := range completed {
		sum += clamp01(r.Diagnostics.Confidence)
	}
	return sum / float64(len(completed))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
