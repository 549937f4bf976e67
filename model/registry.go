package model

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/concordlabs/concord/events"
)

// Filter narrows registry searches. Zero-value fields match everything.
type Filter struct {
	// Capabilities that must all be present.
	Capabilities []string

	// Tier restricts to one tier (local or hosted). Zero means any tier.
	Tier Tier

	// MaxTier restricts to models at or below a tier. Zero means no cap.
	MaxTier Tier

	// Provider restricts to one backend.
	Provider string

	// Specialization restricts to models tuned for a domain.
	Specialization string

	// Language restricts to models fluent in the language.
	Language string

	// IncludeUnavailable includes degraded and unavailable models.
	IncludeUnavailable bool
}

// Registry is the in-memory model catalog. Reads may run concurrently;
// writes are last-write-wins per model id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	checker HealthChecker
	bus     *events.Bus
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHealthChecker sets the pluggable health-check provider.
func WithHealthChecker(c HealthChecker) RegistryOption {
	return func(r *Registry) {
		r.checker = c
	}
}

// WithBus sets the event bus for registry events.
func WithBus(bus *events.Bus) RegistryOption {
	return func(r *Registry) {
		r.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a model entry. Entries with no status default
// to available.
func (r *Registry) Register(entry *Entry) {
	cp := entry.clone()
	if cp.Status == "" {
		cp.Status = StatusAvailable
	}

	r.mu.Lock()
	r.entries[cp.ID] = cp
	r.mu.Unlock()

	r.publish(events.RegistryModelRegistered, map[string]any{
		"model": cp.ID, "provider": cp.Provider, "tier": int(cp.Tier),
	})
}

// Unregister removes a model entry. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, existed := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if existed {
		r.publish(events.RegistryModelUnregistered, map[string]any{"model": id})
	}
}

// Get returns a copy of the entry, or nil if unknown.
func (r *Registry) Get(id string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.entries[id]; ok {
		return entry.clone()
	}
	return nil
}

// List returns copies of all entries in unspecified order.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.clone())
	}
	return out
}

// SetStatus updates a model's availability. Unknown ids are ignored.
func (r *Registry) SetStatus(id string, status Status) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	var previous Status
	if ok {
		previous = entry.Status
		entry.Status = status
	}
	r.mu.Unlock()

	if ok && previous != status {
		r.publish(events.RegistryStatusChanged, map[string]any{
			"model": id, "from": string(previous), "to": string(status),
		})
	}
}

// FindModels returns copies of entries matching the filter, unsorted.
// Unavailable models are excluded unless the filter says otherwise.
func (r *Registry) FindModels(filter Filter) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for _, entry := range r.entries {
		if matches(entry, filter) {
			out = append(out, entry.clone())
		}
	}
	return out
}

// BestModel returns the preferred entry for the filter: local models first,
// then lowest cost, then highest throughput. Returns nil when nothing matches.
func (r *Registry) BestModel(filter Filter) *Entry {
	candidates := r.FindModels(filter)
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aLocal, bLocal := a.Tier == TierLocal, b.Tier == TierLocal
		if aLocal != bLocal {
			return aLocal
		}
		if a.CostPer1KTokens != b.CostPer1KTokens {
			return a.CostPer1KTokens < b.CostPer1KTokens
		}
		return a.TokensPerSecond > b.TokensPerSecond
	})

	return candidates[0]
}

// FallbackChain returns filter matches excluding the primary, sorted by
// ascending cost so the cheapest alternative is tried first.
func (r *Registry) FallbackChain(primaryID string, filter Filter) []*Entry {
	candidates := r.FindModels(filter)

	out := candidates[:0]
	for _, c := range candidates {
		if c.ID != primaryID {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CostPer1KTokens != out[j].CostPer1KTokens {
			return out[i].CostPer1KTokens < out[j].CostPer1KTokens
		}
		return out[i].TokensPerSecond > out[j].TokensPerSecond
	})

	return out
}

func matches(entry *Entry, filter Filter) bool {
	if !filter.IncludeUnavailable && entry.Status != StatusAvailable {
		return false
	}
	for _, capability := range filter.Capabilities {
		if !entry.HasCapability(capability) {
			return false
		}
	}
	if filter.Tier > 0 && entry.Tier != filter.Tier {
		return false
	}
	if filter.MaxTier > 0 && entry.Tier > filter.MaxTier {
		return false
	}
	if filter.Provider != "" && entry.Provider != filter.Provider {
		return false
	}
	if filter.Specialization != "" {
		found := false
		for _, s := range entry.Specializations {
			if s == filter.Specialization {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Language != "" && !entry.SupportsLanguage(filter.Language) {
		return false
	}
	return true
}

func (r *Registry) publish(eventType events.EventType, data map[string]any) {
	if r.bus != nil {
		r.bus.Publish(eventType, data)
	}
}
