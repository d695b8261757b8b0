package convert

import (
	"sort"
	"sync"

	"github.com/tandemlab/tandem/pkg/schema"
)

// Converter turns one analyzed node into journey states and transitions,
// recording them on the context. Implementations must not assume graph-wide
// wiring; edges and container plumbing are handled after all nodes convert.
type Converter interface {
	// Strategy names the conversion strategy this converter handles.
	Strategy() schema.ConversionStrategy

	// Convert emits states for the node. It must call ctx.MapStates so the
	// wiring pass can find the node's entry and exit states.
	Convert(node *schema.Node, analysis NodeAnalysis, ctx *Context) error
}

// Registry is a thread-safe strategy-keyed converter registry with a
// generic fallback.
type Registry struct {
	mu         sync.RWMutex
	converters map[schema.ConversionStrategy]Converter
	generic    Converter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		converters: make(map[schema.ConversionStrategy]Converter),
	}
}

// Register adds a converter. Returns error on nil converter, empty strategy,
// or duplicate registration.
func (r *Registry) Register(c Converter) error {
	if c == nil {
		return schema.NewError(schema.ErrCodeValidation, "converter is nil")
	}
	strategy := c.Strategy()
	if strategy == "" {
		return schema.NewError(schema.ErrCodeValidation, "converter strategy is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.converters[strategy]; exists {
		return schema.NewErrorf(schema.ErrCodeAlreadyExists, "converter for strategy %q already registered", strategy)
	}

	r.converters[strategy] = c
	return nil
}

// SetGeneric installs the fallback converter used when no strategy-specific
// converter is registered.
func (r *Registry) SetGeneric(c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generic = c
}

// Resolve returns the converter for a strategy, falling back to the generic
// converter. The second return reports whether the fallback was used.
func (r *Registry) Resolve(strategy schema.ConversionStrategy) (Converter, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.converters[strategy]; ok {
		return c, false, nil
	}
	if r.generic != nil {
		return r.generic, true, nil
	}
	return nil, false, schema.NewErrorf(schema.ErrCodeNotFound, "no converter for strategy %q and no generic fallback", strategy)
}

// Has checks whether a strategy has a dedicated converter.
func (r *Registry) Has(strategy schema.ConversionStrategy) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.converters[strategy]
	return ok
}

// Strategies returns the registered strategies, sorted.
func (r *Registry) Strategies() []schema.ConversionStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schema.ConversionStrategy, 0, len(r.converters))
	for s := range r.converters {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultRegistry builds a registry with all built-in converters registered
// and the standard converter installed as the generic fallback.
func DefaultRegistry(gen *Generator) *Registry {
	r := NewRegistry()
	std := &standardConverter{gen: gen}
	for _, c := range []Converter{
		&initialConverter{gen: gen},
		&branchingConverter{gen: gen},
		&loopConverter{gen: gen},
		&parallelConverter{gen: gen},
		&finalConverter{gen: gen},
		&toolConverter{gen: gen},
		&chatConverter{gen: gen},
		&subjourneyConverter{gen: gen},
		&multiStateConverter{gen: gen},
		std,
	} {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	r.SetGeneric(std)
	return r
}
