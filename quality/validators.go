package quality

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Validator is a named content check. Validators report findings as
// issues; they never fail outright.
type Validator func(content string) []Issue

// Built-in validator names.
const (
	ValidatorCoherence      = "coherence"
	ValidatorCompleteness   = "completeness"
	ValidatorJSON           = "json"
	ValidatorDecisionRecord = "decision_record"
)

func builtinValidators() map[string]Validator {
	return map[string]Validator{
		ValidatorCoherence:      checkCoherence,
		ValidatorCompleteness:   checkCompleteness,
		ValidatorJSON:           checkJSONValidity,
		ValidatorDecisionRecord: checkDecisionRecord,
	}
}

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9']+`)

// checkCoherence flags degenerate repetition: one token occurring more
// than 10 times and making up more than 10% of all words, the signature
// of a model stuck in a loop.
func checkCoherence(content string) []Issue {
	words := wordPattern.FindAllString(strings.ToLower(content), -1)
	if len(words) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, word := range words {
		counts[word]++
	}

	for word, count := range counts {
		if count > 10 && count*10 > len(words) {
			return []Issue{{
				Type:     ValidatorCoherence,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("token %q repeats %d times (%d%% of content)", word, count, count*100/len(words)),
			}}
		}
	}
	return nil
}

var incompleteEndings = []string{
	"...", "…", " and", " or", " but", " the", " a", " to", " with", ",",
}

var todoPattern = regexp.MustCompile(`(?i)\b(TODO|TBD|FIXME|\[placeholder\]|\[insert)`)

// checkCompleteness flags content that trails off mid-thought or still
// carries placeholder markers.
func checkCompleteness(content string) []Issue {
	var issues []Issue

	trimmed := strings.TrimRight(strings.TrimSpace(content), "\n ")
	for _, ending := range incompleteEndings {
		if strings.HasSuffix(trimmed, ending) {
			issues = append(issues, Issue{
				Type:     ValidatorCompleteness,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("content ends mid-thought (%q)", ending),
			})
			break
		}
	}

	if todoPattern.MatchString(content) {
		issues = append(issues, Issue{
			Type:     ValidatorCompleteness,
			Severity: SeverityMedium,
			Message:  "content contains placeholder markers",
		})
	}
	return issues
}

// checkJSONValidity flags content that is not a parseable JSON document.
func checkJSONValidity(content string) []Issue {
	if json.Valid([]byte(strings.TrimSpace(content))) {
		return nil
	}
	return []Issue{{
		Type:     ValidatorJSON,
		Severity: SeverityHigh,
		Message:  "content is not structurally valid JSON",
	}}
}

// decisionSections are the headings a decision record must cover.
var decisionSections = []string{"issue", "options", "recommendation", "risk"}

// checkDecisionRecord verifies a decision record covers every required
// section, by heading or by JSON key.
func checkDecisionRecord(content string) []Issue {
	lower := strings.ToLower(content)

	var issues []Issue
	for _, section := range decisionSections {
		if strings.Contains(lower, section) {
			continue
		}
		issues = append(issues, Issue{
			Type:     ValidatorDecisionRecord,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("decision record is missing the %q section", section),
		})
	}
	return issues
}
