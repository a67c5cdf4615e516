package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/arturoeanton/ollama-chat/internal/domain"
	"github.com/arturoeanton/ollama-chat/internal/port"
)

// FallbackProvider is used when neither the request nor the configuration names one.
const FallbackProvider = "ollama"

// ProviderRegistry resolves provider names to lazily built, process-scoped
// instances. At most one instance is constructed per name.
type ProviderRegistry struct {
	defaultName string

	mu           sync.Mutex
	constructors map[string]port.ProviderConstructor
	instances    map[string]port.LLMProvider
}

// NewProviderRegistry creates an empty registry. defaultName is used when a
// lookup does not name a provider.
func NewProviderRegistry(defaultName string) *ProviderRegistry {
	return &ProviderRegistry{
		defaultName:  normalize(defaultName),
		constructors: make(map[string]port.ProviderConstructor),
		instances:    make(map[string]port.LLMProvider),
	}
}

// Register associates a provider name with its constructor.
func (r *ProviderRegistry) Register(name string, constructor port.ProviderConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[normalize(name)] = constructor
}

// Resolve returns the effective provider name: explicit, then the registry
// default, then FallbackProvider.
func (r *ProviderRegistry) Resolve(name string) string {
	if n := normalize(name); n != "" {
		return n
	}
	if r.defaultName != "" {
		return r.defaultName
	}
	return FallbackProvider
}

// Get returns the provider for name, constructing it on first use.
func (r *ProviderRegistry) Get(name string) (port.LLMProvider, error) {
	key := r.Resolve(name)

	p, err := r.instance(key)
	if err != nil {
		return nil, err
	}
	if !p.IsConfigured() {
		return nil, fmt.Errorf("%w: %s", port.ErrProviderNotConfigured, key)
	}
	return p, nil
}

// Available lists every registered provider with its configuration state.
func (r *ProviderRegistry) Available() []domain.ProviderInfo {
	r.mu.Lock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)

	infos := make([]domain.ProviderInfo, 0, len(names))
	for _, name := range names {
		p, err := r.instance(name)
		if err != nil {
			continue
		}
		infos = append(infos, domain.ProviderInfo{
			Type:       name,
			Name:       p.Name(),
			Configured: p.IsConfigured(),
		})
	}
	return infos
}

func (r *ProviderRegistry) instance(key string) (port.LLMProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.instances[key]; ok {
		return p, nil
	}
	constructor, ok := r.constructors[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", port.ErrUnsupportedProvider, key)
	}
	p := constructor()
	r.instances[key] = p
	return p, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
