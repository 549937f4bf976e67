package task

import (
	"fmt"
	"regexp"
	"strings"
)

// baseDifficulty maps each task type to its starting difficulty.
var baseDifficulty = map[Type]Difficulty{
	TypeChatter:          DifficultyTrivial,
	TypeScouting:         DifficultySimple,
	TypeSummarization:    DifficultySimple,
	TypeTranslation:      DifficultySimple,
	TypeEmbedding:        DifficultyTrivial,
	TypeRerank:           DifficultyTrivial,
	TypeDebate:           DifficultyComplex,
	TypeResearch:         DifficultyComplex,
	TypeCoding:           DifficultyModerate,
	TypeVision:           DifficultyModerate,
	TypeLanguageSpecific: DifficultyModerate,
	TypeCoreDecision:     DifficultyCritical,
	TypeComplexAnalysis:  DifficultyCritical,
}

// suggestedTokens maps difficulty to the recommended response budget.
var suggestedTokens = map[Difficulty]int{
	DifficultyTrivial:  256,
	DifficultySimple:   512,
	DifficultyModerate: 1024,
	DifficultyComplex:  2048,
	DifficultyCritical: 4096,
}

// highStakesPatterns escalate to critical: money, token amounts, treasury
// operations, security audits.
var highStakesPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$\s*[\d,]+`),
	regexp.MustCompile(`(?i)\b[\d,]+(\.\d+)?\s*(tokens?|coins?)\b`),
	regexp.MustCompile(`(?i)\btreasury\b`),
	regexp.MustCompile(`(?i)\bsecurity\s+audit\b`),
	regexp.MustCompile(`(?i)\b(irreversible|permanent(ly)?\s+delete)\b`),
}

// multiStepPatterns indicate multi-step reasoning, escalating to at least complex.
var multiStepPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bstep[\s-]by[\s-]step\b`),
	regexp.MustCompile(`(?i)\bfirst\b.+\bthen\b`),
	regexp.MustCompile(`(?i)\banalyze\b.+\b(and|then)\b.+\b(recommend|decide|propose)\b`),
	regexp.MustCompile(`(?i)\bcompare\b.+\b(against|versus|vs\.?|with)\b`),
	regexp.MustCompile(`(?i)\btrade[\s-]?offs?\b`),
}

// keywordDifficulty maps prompt keywords to a minimum difficulty.
var keywordDifficulty = map[string]Difficulty{
	"hello":        DifficultyTrivial,
	"thanks":       DifficultyTrivial,
	"summarize":    DifficultySimple,
	"list":         DifficultySimple,
	"translate":    DifficultySimple,
	"explain":      DifficultyModerate,
	"governance":   DifficultyModerate,
	"vote":         DifficultyModerate,
	"proposal":     DifficultyModerate,
	"architecture": DifficultyComplex,
	"algorithm":    DifficultyComplex,
	"audit":        DifficultyComplex,
	"allocate":     DifficultyComplex,
	"budget":       DifficultyComplex,
	"constitution": DifficultyCritical,
	"emergency":    DifficultyCritical,
}

// Classify grades a task against the static rule tables.
// It is a pure function: the same task always yields the same classification,
// and it never fails. Unknown task types fall back to moderate.
func Classify(t *Task) Classification {
	base, known := baseDifficulty[t.Type]
	if !known {
		base = DifficultyModerate
	}

	final := base
	var reasons []string
	reasons = append(reasons, fmt.Sprintf("base %s for type %s", base, t.Type))

	stakes := matchesAny(highStakesPatterns, t.Prompt)
	if stakes {
		final = maxDifficulty(final, DifficultyCritical)
		reasons = append(reasons, "high-stakes content detected")
	}

	multiStep := matchesAny(multiStepPatterns, t.Prompt)
	if multiStep {
		final = maxDifficulty(final, DifficultyComplex)
		reasons = append(reasons, "multi-step reasoning required")
	}

	if kw, d := keywordMatch(t.Prompt); kw != "" && d > final {
		final = d
		reasons = append(reasons, fmt.Sprintf("keyword %q implies %s", kw, d))
	}

	if d := lengthDifficulty(t.Prompt); d > final {
		final = d
		reasons = append(reasons, fmt.Sprintf("prompt length implies %s", d))
	}

	if len(t.RequiredCapabilities) > 2 {
		final = maxDifficulty(final, DifficultyComplex)
		reasons = append(reasons, fmt.Sprintf("%d required capabilities", len(t.RequiredCapabilities)))
	}

	confidence := 70
	if final == base {
		confidence += 15
	}
	if stakes && final == DifficultyCritical {
		confidence += 10
	}
	if multiStep && final == DifficultyTrivial {
		confidence -= 20
	}
	if confidence > 95 {
		confidence = 95
	}
	if confidence < 30 {
		confidence = 30
	}

	return Classification{
		Task:            t,
		Difficulty:      final,
		Confidence:      confidence,
		Reasoning:       strings.Join(reasons, "; "),
		SuggestedTokens: suggestedTokens[final],
		RequiresTier2:   final >= DifficultyComplex,
		RequiresReview:  final == DifficultyCritical || stakes,
	}
}

// lengthDifficulty derives a difficulty floor from estimated prompt tokens.
// Token count is approximated at four characters per token.
func lengthDifficulty(prompt string) Difficulty {
	tokens := len(prompt) / 4
	switch {
	case tokens <= 100:
		return DifficultyTrivial
	case tokens <= 300:
		return DifficultySimple
	case tokens <= 800:
		return DifficultyModerate
	case tokens <= 2000:
		return DifficultyComplex
	default:
		return DifficultyCritical
	}
}

// keywordMatch returns the highest-difficulty keyword found in the prompt.
func keywordMatch(prompt string) (string, Difficulty) {
	lower := strings.ToLower(prompt)
	var bestWord string
	best := Difficulty(-1)
	for word, d := range keywordDifficulty {
		if strings.Contains(lower, word) && d > best {
			bestWord = word
			best = d
		}
	}
	return bestWord, best
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
