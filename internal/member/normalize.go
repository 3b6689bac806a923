package member

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pi-runtime/agentteams/internal/outcome"
	"github.com/pi-runtime/agentteams/internal/util"
)

// Labels every completed member output must carry. Matching is
// case-insensitive; the canonical spelling is used when synthesizing.
const (
	LabelSummary    = "SUMMARY"
	LabelClaim      = "CLAIM"
	LabelEvidence   = "EVIDENCE"
	LabelConfidence = "CONFIDENCE"
	LabelResult     = "RESULT"
	LabelNextStep   = "NEXT_STEP"
)

var requiredLabels = []string{
	LabelSummary, LabelClaim, LabelEvidence, LabelConfidence, LabelResult, LabelNextStep,
}

// synthesizedEvidence marks evidence fabricated during normalization; it
// contributes zero evidence items to diagnostics.
const synthesizedEvidence = "generated-from-raw-output"

const (
	defaultConfidence   = 0.5
	intentConfidence    = 0.40
	normalizeConfidence = 0.55

	summaryLimit    = 160
	minSubstanceLen = 24
)

var labelLineRe = regexp.MustCompile(`(?i)^\s*(SUMMARY|CLAIM|EVIDENCE|CONFIDENCE|RESULT|NEXT_STEP)\s*:\s*(.*)$`)

// Fields maps canonical labels to their (possibly multi-line) values.
type Fields map[string]string

// ParseFields extracts labeled fields from member output. A field runs from
// its label line to the next label line; leading lines before any label are
// ignored.
func ParseFields(output string) Fields {
	fields := Fields{}
	current := ""
	for _, line := range strings.Split(output, "\n") {
		if m := labelLineRe.FindStringSubmatch(line); m != nil {
			current = strings.ToUpper(m[1])
			fields[current] = strings.TrimSpace(m[2])
			continue
		}
		if current == "" {
			continue
		}
		if fields[current] == "" {
			fields[current] = strings.TrimSpace(line)
		} else {
			fields[current] += "\n" + strings.TrimRight(line, " \t")
		}
	}
	for label, v := range fields {
		fields[label] = strings.TrimSpace(v)
	}
	return fields
}

// Validate checks that output is non-empty and carries every required label
// with a non-empty value.
func Validate(output string) error {
	if strings.TrimSpace(output) == "" {
		return outcome.ErrEmptyOutput
	}
	fields := ParseFields(output)
	var missing []string
	for _, label := range requiredLabels {
		if fields[label] == "" {
			missing = append(missing, label)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing fields %s", outcome.ErrMalformedOutput, strings.Join(missing, ", "))
	}
	return nil
}

var intentPhrases = []string{
	"i will ", "i'll ", "let me ", "going to ", "i plan to ", "i am about to ",
}

// intentOnly reports output that announces work instead of reporting it.
func intentOnly(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, phrase := range intentPhrases {
		if strings.HasPrefix(lower, phrase) {
			return true
		}
	}
	return false
}

// Normalize validates raw member output, rewriting it into labeled form when
// the labels are missing. The returned string always passes Validate when the
// error is nil.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", outcome.ErrEmptyOutput
	}
	if Validate(trimmed) == nil {
		return trimmed, nil
	}

	partial := ParseFields(trimmed)
	candidate := compactLine(trimmed)
	if candidate == "" {
		for _, label := range []string{LabelSummary, LabelClaim, LabelResult} {
			if v := partial[label]; v != "" {
				candidate = util.TruncateString(util.SingleLine(v), summaryLimit)
				break
			}
		}
	}
	if candidate == "" {
		return "", fmt.Errorf("%w: no usable content line", outcome.ErrLowSubstance)
	}
	if len(trimmed) < minSubstanceLen && len(partial) == 0 {
		return "", fmt.Errorf("%w: output too short to normalize", outcome.ErrLowSubstance)
	}

	confidence := normalizeConfidence
	nextStep := "none"
	if intentOnly(trimmed) {
		confidence = intentConfidence
		nextStep = "rerun and request concrete results instead of intent"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", LabelSummary, candidate)
	fmt.Fprintf(&b, "%s: %s\n", LabelClaim, candidate)
	fmt.Fprintf(&b, "%s: %s\n", LabelEvidence, synthesizedEvidence)
	fmt.Fprintf(&b, "%s: %.2f\n", LabelConfidence, confidence)
	fmt.Fprintf(&b, "%s: %s\n", LabelNextStep, nextStep)
	fmt.Fprintf(&b, "%s:\n%s", LabelResult, trimmed)

	normalized := b.String()
	if err := Validate(normalized); err != nil {
		return "", fmt.Errorf("output failed normalization: %w", err)
	}
	return normalized, nil
}

// compactLine picks the first non-empty, non-label line as a one-line
// representative of the raw output.
func compactLine(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || labelLineRe.MatchString(line) {
			continue
		}
		return util.TruncateString(util.SingleLine(line), summaryLimit)
	}
	return ""
}

var contradictionKeywords = []string{
	"contradict", "inconsistent", "cannot both", "mutually exclusive", "disagree",
}

var conflictKeywords = []string{
	"conflict", "mismatch", "diverge", "incompatible", "opposing",
}

var confidenceNumberRe = regexp.MustCompile(`[0-9]*\.?[0-9]+`)

// ParseDiagnostics derives diagnostics from normalized output.
func ParseDiagnostics(output string) Diagnostics {
	fields := ParseFields(output)
	return Diagnostics{
		Confidence:           parseConfidence(fields[LabelConfidence]),
		EvidenceCount:        countEvidence(fields[LabelEvidence]),
		ContradictionSignals: countKeywords(output, contradictionKeywords),
		ConflictSignals:      countKeywords(output, conflictKeywords),
	}
}

func parseConfidence(value string) float64 {
	m := confidenceNumberRe.FindString(value)
	if m == "" {
		return defaultConfidence
	}
	parsed, err := strconv.ParseFloat(m, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return defaultConfidence
	}
	return parsed
}

func countEvidence(value string) int {
	if value == "" || value == synthesizedEvidence {
		return 0
	}
	count := 0
	for _, line := range strings.Split(value, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") || numberedItemRe.MatchString(line) {
			count++
		}
	}
	if count == 0 {
		// A single prose evidence statement still counts as one item.
		count = 1
	}
	return count
}

var numberedItemRe = regexp.MustCompile(`^\d+[.)]\s`)

func countKeywords(output string, keywords []string) int {
	lower := strings.ToLower(output)
	count := 0
	for _, kw := range keywords {
		count += strings.Count(lower, kw)
	}
	return count
}

// failedSummary marks results of failed dispatches in summary lines.
const failedSummary = "(failed)"

// Finalize turns a raw executor response into a Result. On dispatch error
// the result is failed with the error text and empty output; otherwise the
// output is normalized and, when that fails, the member is failed with the
// normalization reason. The returned error is non-nil exactly when the
// result is failed, preserving the error chain for outcome classification.
func Finalize(req Request, resp Response, err error) (Result, error) {
	res := Result{
		MemberID:  req.MemberID,
		Role:      req.Role,
		LatencyMs: resp.LatencyMs,
	}
	if err != nil {
		res.Status = StatusFailed
		res.Summary = failedSummary
		res.Error = err.Error()
		return res, err
	}

	normalized, nerr := Normalize(resp.Output)
	if nerr != nil {
		res.Status = StatusFailed
		res.Summary = failedSummary
		res.Error = nerr.Error()
		res.Output = resp.Output
		return res, nerr
	}

	res.Status = StatusCompleted
	res.Output = normalized
	res.Summary = util.TruncateString(util.SingleLine(ParseFields(normalized)[LabelSummary]), summaryLimit)
	res.Diagnostics = ParseDiagnostics(normalized)
	return res, nil
}
