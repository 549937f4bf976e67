package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/concordlabs/concord/events"
	"github.com/concordlabs/concord/llm"
	"github.com/concordlabs/concord/model"
	"github.com/concordlabs/concord/quality"
	"github.com/concordlabs/concord/task"
)

// escalationTemperature is used for the single same-model retry after a
// quality failure. A colder sample often fixes a one-off bad generation
// without spending a fallback slot on a different model.
const escalationTemperature = 0.2

// Result is a generation that made it through routing.
type Result struct {
	*llm.GenerationResult

	// QualityCheck is the gate outcome, when the gate ran.
	QualityCheck *quality.CheckResult `json:"quality_check,omitempty"`

	// ModelsTried lists every model attempted, in order.
	ModelsTried []string `json:"models_tried"`

	// Escalated is true when at least one quality failure forced fallback.
	Escalated bool `json:"escalated"`

	// Selection is the routing decision that produced this result.
	Selection *Selection `json:"selection,omitempty"`
}

// Execute routes the task and tries the selection's models in order until
// one produces a passing result. Fallback attempts are strictly
// sequential. When every candidate fails, the error names all tried
// models and wraps the last underlying failure.
func (r *Router) Execute(ctx context.Context, t *task.Task) (*Result, error) {
	selection := r.Route(t)
	return r.ExecuteSelection(ctx, t, selection)
}

// ExecuteSelection runs a task against an existing selection.
func (r *Router) ExecuteSelection(ctx context.Context, t *task.Task, selection *Selection) (*Result, error) {
	candidates := append([]string{selection.PrimaryModel}, selection.FallbackModels...)

	maxAttempts := selection.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = len(candidates)
	}

	var tried []string
	var lastErr error
	escalated := false
	attempts := 0

	for _, modelID := range candidates {
		if attempts >= maxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execution cancelled: %w", err)
		}

		entry := r.registry.Get(modelID)
		if entry == nil {
			lastErr = fmt.Errorf("model %s is not registered", modelID)
			tried = append(tried, modelID)
			continue
		}
		provider, ok := r.providers[entry.Provider]
		if !ok {
			lastErr = fmt.Errorf("no provider configured for %s (model %s)", entry.Provider, modelID)
			tried = append(tried, modelID)
			continue
		}

		tried = append(tried, modelID)
		attempts++

		generation, err := r.generateOnce(ctx, provider, entry, t, nil)
		if err != nil {
			lastErr = err
			r.publish(events.RouterModelFallback, map[string]any{
				"from": modelID, "reason": "generation_failed",
			})
			continue
		}

		if !selection.QualityEnabled {
			r.publish(events.RouterGenerationCompleted, map[string]any{
				"model": modelID, "tokens": generation.Usage.TotalTokens,
			})
			return &Result{
				GenerationResult: generation,
				ModelsTried:      tried,
				Escalated:        escalated,
				Selection:        selection,
			}, nil
		}

		check := r.gate.Check(generation.Content, selection.Quality)
		r.publish(events.RouterQualityChecked, map[string]any{
			"model": modelID, "passed": check.Passed, "confidence": check.Confidence,
		})

		if !check.Passed && selection.Quality.EscalateOnFailure &&
			r.config.RetrySameModel && attempts < maxAttempts {
			// One colder retry on the same model before burning a fallback.
			attempts++
			retry, retryErr := r.generateOnce(ctx, provider, entry, t, temperaturePtr(escalationTemperature))
			if retryErr == nil {
				retryCheck := r.gate.Check(retry.Content, selection.Quality)
				r.publish(events.RouterQualityChecked, map[string]any{
					"model": modelID, "passed": retryCheck.Passed, "confidence": retryCheck.Confidence, "retry": true,
				})
				if retryCheck.Passed {
					retryCheck.Escalated = escalated
					return &Result{
						GenerationResult: retry,
						QualityCheck:     &retryCheck,
						ModelsTried:      tried,
						Escalated:        escalated,
						Selection:        selection,
					}, nil
				}
				check = retryCheck
			}
		}

		if !check.Passed {
			r.publish(events.RouterQualityFailed, map[string]any{
				"model": modelID, "confidence": check.Confidence, "issues": len(check.Issues),
			})
			if selection.Quality.EscalateOnFailure {
				escalated = true
				lastErr = fmt.Errorf("model %s failed quality check (confidence %d)", modelID, check.Confidence)
				r.publish(events.RouterModelFallback, map[string]any{
					"from": modelID, "reason": "quality_failed",
				})
				continue
			}
			// Quality failures are data: without escalation the content is
			// accepted and flagged for review.
			check.RequiresReview = true
		}

		check.Escalated = escalated
		r.publish(events.RouterGenerationCompleted, map[string]any{
			"model": modelID, "tokens": generation.Usage.TotalTokens,
		})
		return &Result{
			GenerationResult: generation,
			QualityCheck:     &check,
			ModelsTried:      tried,
			Escalated:        escalated,
			Selection:        selection,
		}, nil
	}

	r.publish(events.RouterModelExhausted, map[string]any{
		"models_tried": strings.Join(tried, ","),
	})
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate models")
	}
	return nil, fmt.Errorf("all models exhausted (tried %s): %w", strings.Join(tried, ", "), lastErr)
}

// generateOnce performs a single provider call with stats accounting.
// overrideTemp, when set, replaces the task temperature.
func (r *Router) generateOnce(ctx context.Context, provider llm.Provider, entry *model.Entry, t *task.Task, overrideTemp *float64) (*llm.GenerationResult, error) {
	opts := llm.GenerateOptions{
		SystemPrompt: t.SystemPrompt,
		MaxTokens:    t.MaxTokens,
		Temperature:  t.Temperature,
	}
	if overrideTemp != nil {
		opts.Temperature = overrideTemp
	}

	r.publish(events.RouterGenerationStarted, map[string]any{
		"model": entry.ID, "provider": entry.Provider,
	})

	start := time.Now()
	result, err := provider.Generate(ctx, entry.Name, t.Prompt, opts)
	if err != nil {
		r.recordAttempt(entry.ID, entry.Tier, false, 0, 0, time.Since(start).Milliseconds())
		r.logger.Warn("Generation failed",
			"model", entry.ID,
			"provider", entry.Provider,
			"error", err)
		r.publish(events.RouterGenerationFailed, map[string]any{
			"model": entry.ID, "error": err.Error(),
		})
		return nil, fmt.Errorf("model %s: %w", entry.ID, err)
	}

	if result.CostUSD == 0 && entry.CostPer1KTokens > 0 {
		result.CostUSD = float64(result.Usage.TotalTokens) / 1000 * entry.CostPer1KTokens
	}
	if result.Model == "" {
		result.Model = entry.ID
	}
	result.Provider = entry.Provider

	r.recordAttempt(entry.ID, entry.Tier, true, int64(result.Usage.TotalTokens), result.CostUSD, result.LatencyMs)
	return result, nil
}

// TaskParams is the thin facade contract used by pipeline stages.
type TaskParams struct {
	Type         task.Type `json:"type"`
	Prompt       string    `json:"prompt"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Language     string    `json:"language,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
}

// ExecuteTask routes and executes a one-off task, returning the content.
func (r *Router) ExecuteTask(ctx context.Context, params TaskParams) (string, error) {
	t := &task.Task{
		ID:                   uuid.NewString(),
		Type:                 params.Type,
		Prompt:               params.Prompt,
		SystemPrompt:         params.SystemPrompt,
		MaxTokens:            params.MaxTokens,
		Language:             params.Language,
		RequiredCapabilities: params.Capabilities,
		CreatedAt:            time.Now().UTC(),
	}

	result, err := r.Execute(ctx, t)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func temperaturePtr(v float64) *float64 {
	return &v
}
