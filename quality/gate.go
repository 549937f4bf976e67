// Package quality validates generated content before it enters the
// governance record. The gate never rejects by throwing: every check
// produces issues and a confidence score, and the caller decides what
// a failure means (escalate to another model, or accept with review).
package quality

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Severity grades an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue is one problem found in checked content.
type Issue struct {
	// Type names the check that raised the issue.
	Type string `json:"type"`

	// Severity grades the issue.
	Severity Severity `json:"severity"`

	// Message describes what was found.
	Message string `json:"message"`
}

// CheckResult is the outcome of a quality gate run.
type CheckResult struct {
	// Passed is true when confidence meets the minimum and no critical issue exists.
	Passed bool `json:"passed"`

	// Confidence is the 0-100 quality score.
	Confidence int `json:"confidence"`

	// Issues lists everything the checks found.
	Issues []Issue `json:"issues,omitempty"`

	// Suggestions are remediation hints for the caller.
	Suggestions []string `json:"suggestions,omitempty"`

	// RequiresReview flags content for human review.
	RequiresReview bool `json:"requires_review"`

	// Escalated is set by the router when a failure triggered model fallback.
	Escalated bool `json:"escalated"`
}

// Format names a structural expectation for checked content.
type Format string

const (
	FormatAny      Format = ""
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Options configures one gate run.
type Options struct {
	// MinConfidence is the pass threshold. Zero means the default of 70.
	MinConfidence int `json:"min_confidence" yaml:"min_confidence"`

	// MinLength and MaxLength bound content size in characters. Zero disables.
	MinLength int `json:"min_length" yaml:"min_length"`
	MaxLength int `json:"max_length" yaml:"max_length"`

	// Format is the expected structure of the content.
	Format Format `json:"format" yaml:"format"`

	// RequiredKeywords must all appear (case-insensitive).
	RequiredKeywords []string `json:"required_keywords" yaml:"required_keywords"`

	// ForbiddenPatterns are regexes that must not match.
	ForbiddenPatterns []string `json:"forbidden_patterns" yaml:"forbidden_patterns"`

	// Validators names additional named validators to run.
	Validators []string `json:"validators" yaml:"validators"`

	// RequiresReview forces the review flag regardless of findings.
	RequiresReview bool `json:"requires_review" yaml:"requires_review"`

	// EscalateOnFailure tells the router to try the next model on failure.
	EscalateOnFailure bool `json:"escalate_on_failure" yaml:"escalate_on_failure"`
}

// DefaultMinConfidence is the pass threshold when options leave it unset.
const DefaultMinConfidence = 70

const baseConfidence = 85

// Severity deductions from the base confidence.
var severityPenalty = map[Severity]int{
	SeverityCritical: 30,
	SeverityHigh:     20,
	SeverityMedium:   10,
	SeverityLow:      5,
}

// safetyPatterns are always applied, whatever the options say. Generated
// content must never carry credentials or executable payloads into the
// governance record.
var safetyPatterns = []struct {
	pattern *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|access[_-]?token)\s*[:=]\s*\S+`), "content contains what looks like a credential"},
	{regexp.MustCompile(`(?i)-----BEGIN [A-Z ]*PRIVATE KEY-----`), "content contains a private key block"},
	{regexp.MustCompile(`(?i)<script[\s>]`), "content contains a script tag"},
	{regexp.MustCompile(`(?i)\b(eval|exec|os\.system|subprocess\.(run|call|Popen))\s*\(`), "content contains a code-execution call"},
}

// Gate runs content checks. Safe for concurrent use.
type Gate struct {
	validators map[string]Validator
	logger     *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithValidator registers a named validator, replacing any built-in of
// the same name.
func WithValidator(name string, v Validator) GateOption {
	return func(g *Gate) {
		g.validators[name] = v
	}
}

// NewGate creates a gate with the built-in validators registered.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{
		validators: builtinValidators(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check validates content against the options. Never returns an error:
// everything the gate finds is expressed as issues and confidence.
func (g *Gate) Check(content string, opts Options) CheckResult {
	minConfidence := opts.MinConfidence
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}

	// Empty content short-circuits every other check.
	if strings.TrimSpace(content) == "" {
		return CheckResult{
			Passed:     false,
			Confidence: 0,
			Issues: []Issue{{
				Type:     "emptiness",
				Severity: SeverityCritical,
				Message:  "content is empty",
			}},
			Suggestions:    []string{"regenerate with a more specific prompt"},
			RequiresReview: true,
		}
	}

	var issues []Issue
	var suggestions []string

	issues = append(issues, checkLength(content, opts)...)
	issues = append(issues, checkFormat(content, opts.Format)...)
	issues = append(issues, checkKeywords(content, opts.RequiredKeywords)...)
	issues = append(issues, g.checkForbidden(content, opts.ForbiddenPatterns)...)
	issues = append(issues, checkSafety(content)...)

	for _, name := range opts.Validators {
		validator, ok := g.validators[name]
		if !ok {
			g.logger.Warn("Unknown quality validator requested", "validator", name)
			continue
		}
		issues = append(issues, validator(content)...)
	}

	confidence := scoreConfidence(content, issues)

	hasCritical := false
	hasHigh := false
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			hasCritical = true
		case SeverityHigh:
			hasHigh = true
		}
	}

	if len(issues) > 0 {
		suggestions = append(suggestions, "address flagged issues and regenerate")
	}

	return CheckResult{
		Passed:         confidence >= minConfidence && !hasCritical,
		Confidence:     confidence,
		Issues:         issues,
		Suggestions:    suggestions,
		RequiresReview: opts.RequiresReview || hasHigh || hasCritical,
	}
}

func checkLength(content string, opts Options) []Issue {
	var issues []Issue
	if opts.MinLength > 0 && len(content) < opts.MinLength {
		issues = append(issues, Issue{
			Type:     "length",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("content is %d characters, minimum is %d", len(content), opts.MinLength),
		})
	}
	if opts.MaxLength > 0 && len(content) > opts.MaxLength {
		issues = append(issues, Issue{
			Type:     "length",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("content is %d characters, maximum is %d", len(content), opts.MaxLength),
		})
	}
	return issues
}

func checkFormat(content string, format Format) []Issue {
	switch format {
	case FormatJSON:
		if !json.Valid([]byte(strings.TrimSpace(content))) {
			return []Issue{{
				Type:     "format",
				Severity: SeverityHigh,
				Message:  "content is not valid JSON",
			}}
		}
	case FormatMarkdown:
		if !hasMarkdownStructure(content) {
			return []Issue{{
				Type:     "format",
				Severity: SeverityMedium,
				Message:  "content lacks markdown structure (no headings or lists)",
			}}
		}
	}
	return nil
}

func checkKeywords(content string, keywords []string) []Issue {
	lower := strings.ToLower(content)
	var issues []Issue
	for _, keyword := range keywords {
		if !strings.Contains(lower, strings.ToLower(keyword)) {
			issues = append(issues, Issue{
				Type:     "required_keyword",
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("required keyword %q is missing", keyword),
			})
		}
	}
	return issues
}

func (g *Gate) checkForbidden(content string, patterns []string) []Issue {
	var issues []Issue
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			g.logger.Warn("Invalid forbidden pattern", "pattern", pattern, "error", err)
			continue
		}
		if re.MatchString(content) {
			issues = append(issues, Issue{
				Type:     "forbidden_pattern",
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("content matches forbidden pattern %q", pattern),
			})
		}
	}
	return issues
}

func checkSafety(content string) []Issue {
	var issues []Issue
	for _, check := range safetyPatterns {
		if check.pattern.MatchString(content) {
			issues = append(issues, Issue{
				Type:     "safety",
				Severity: SeverityCritical,
				Message:  check.message,
			})
		}
	}
	return issues
}

// scoreConfidence starts from the base score, deducts per issue severity
// and grants small bonuses for substance and structure. Clamped to [0,100].
func scoreConfidence(content string, issues []Issue) int {
	confidence := baseConfidence

	for _, issue := range issues {
		confidence -= severityPenalty[issue.Severity]
	}

	if len(content) > 100 {
		confidence += 5
	}
	if hasMarkdownStructure(content) {
		confidence += 3
	}
	if strings.Count(content, "\n") >= 2 {
		confidence += 2
	}

	if confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return confidence
}

func hasMarkdownStructure(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "- ") ||
			strings.HasPrefix(trimmed, "* ") ||
			strings.HasPrefix(trimmed, "1. ") {
			return true
		}
	}
	return false
}
