// Package task defines the unit of work routed to inference models and the
// rule-based difficulty classifier that drives model selection.
// Instead of hardcoding a model per call site, callers describe the work
// (type, prompt, required capabilities) and the classifier grades it.
package task

import "time"

// Type identifies the kind of work a task represents.
type Type string

const (
	// TypeChatter is conversational small talk and acknowledgements.
	TypeChatter Type = "chatter"

	// TypeScouting is lightweight information gathering.
	TypeScouting Type = "scouting"

	// TypeSummarization condenses existing content.
	TypeSummarization Type = "summarization"

	// TypeTranslation converts content between languages.
	TypeTranslation Type = "translation"

	// TypeEmbedding produces vector embeddings.
	TypeEmbedding Type = "embedding"

	// TypeRerank reorders candidates by relevance.
	TypeRerank Type = "rerank"

	// TypeDebate argues positions across multiple turns.
	TypeDebate Type = "debate"

	// TypeResearch is open-ended investigation.
	TypeResearch Type = "research"

	// TypeCoding is code generation or modification.
	TypeCoding Type = "coding"

	// TypeVision interprets image content.
	TypeVision Type = "vision"

	// TypeLanguageSpecific requires fluency in a particular language.
	TypeLanguageSpecific Type = "language_specific"

	// TypeCoreDecision is a governance decision with real consequences.
	TypeCoreDecision Type = "core_decision"

	// TypeComplexAnalysis is deep multi-factor analysis.
	TypeComplexAnalysis Type = "complex_analysis"
)

// IsValid checks if a type string is a known task type.
func (t Type) IsValid() bool {
	switch t {
	case TypeChatter, TypeScouting, TypeSummarization, TypeTranslation,
		TypeEmbedding, TypeRerank, TypeDebate, TypeResearch, TypeCoding,
		TypeVision, TypeLanguageSpecific, TypeCoreDecision, TypeComplexAnalysis:
		return true
	}
	return false
}

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// Difficulty is the ordered five-level grading of task complexity.
// Higher values require more capable (and more expensive) models.
type Difficulty int

const (
	// DifficultyTrivial needs no reasoning beyond pattern completion.
	DifficultyTrivial Difficulty = iota

	// DifficultySimple needs light comprehension.
	DifficultySimple

	// DifficultyModerate needs structured reasoning.
	DifficultyModerate

	// DifficultyComplex needs multi-step reasoning.
	DifficultyComplex

	// DifficultyCritical carries governance or financial consequence.
	DifficultyCritical
)

var difficultyNames = map[Difficulty]string{
	DifficultyTrivial:  "trivial",
	DifficultySimple:   "simple",
	DifficultyModerate: "moderate",
	DifficultyComplex:  "complex",
	DifficultyCritical: "critical",
}

// String returns the lowercase name of the difficulty level.
func (d Difficulty) String() string {
	if name, ok := difficultyNames[d]; ok {
		return name
	}
	return "unknown"
}

// IsValid checks if the difficulty is one of the five defined levels.
func (d Difficulty) IsValid() bool {
	return d >= DifficultyTrivial && d <= DifficultyCritical
}

// ParseDifficulty converts a string to a Difficulty.
// Returns DifficultyModerate for unknown values.
func ParseDifficulty(s string) Difficulty {
	for d, name := range difficultyNames {
		if name == s {
			return d
		}
	}
	return DifficultyModerate
}

// maxDifficulty returns the higher of two difficulty levels.
func maxDifficulty(a, b Difficulty) Difficulty {
	if a > b {
		return a
	}
	return b
}

// Task is an immutable unit of work submitted for routing.
type Task struct {
	// ID uniquely identifies the task.
	ID string `json:"id"`

	// Type is the kind of work.
	Type Type `json:"type"`

	// Prompt is the user-facing request content.
	Prompt string `json:"prompt"`

	// SystemPrompt optionally sets model behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens limits response length. 0 uses the routed default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. nil uses the provider default.
	Temperature *float64 `json:"temperature,omitempty"`

	// RequiredCapabilities constrains model selection (e.g. "vision", "json").
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`

	// Language constrains selection to models fluent in the language.
	Language string `json:"language,omitempty"`

	// OutputFormat declares the expected response format ("json", "markdown").
	OutputFormat string `json:"output_format,omitempty"`

	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// Classification is the classifier's grading of a task.
// It is recomputed per task and never persisted.
type Classification struct {
	// Task is the classified task.
	Task *Task `json:"task"`

	// Difficulty is the final graded level.
	Difficulty Difficulty `json:"difficulty"`

	// Confidence is the classifier's confidence in the grade, 30-95.
	Confidence int `json:"confidence"`

	// Reasoning explains which rules contributed to the grade.
	Reasoning string `json:"reasoning"`

	// SuggestedTokens is the recommended response budget.
	SuggestedTokens int `json:"suggested_tokens"`

	// RequiresTier2 indicates hosted paid models are needed.
	RequiresTier2 bool `json:"requires_tier2"`

	// RequiresReview indicates the output should be human reviewed.
	RequiresReview bool `json:"requires_review"`
}
