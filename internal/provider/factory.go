package provider

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gtdbot/internal/config"
	"gtdbot/internal/domain"
)

// ProviderConstructor creates a provider from a config entry.
type ProviderConstructor func(name string, pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Provider

// Factory creates and caches model providers from config.
type Factory struct {
	cfg          config.LLMConfig
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

func NewFactory(cfg config.LLMConfig, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
// Names without a constructor are treated as OpenAI-compatible endpoints.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// Get returns the provider with the given name, or the default if name is empty.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	timeout := time.Duration(f.cfg.TimeoutSeconds) * time.Second
	var p domain.Provider
	if ctor, found := f.constructors[name]; found {
		p = ctor(name, pc, timeout, f.logger)
	} else {
		p = NewOpenAI(OpenAIConfig{
			Name:            name,
			APIKey:          pc.APIKey,
			APIBase:         pc.APIBase,
			Model:           pc.Model,
			RateLimitPerMin: pc.RateLimitPerMin,
			Timeout:         timeout,
			Logger:          f.logger,
		})
	}

	f.cache[name] = p
	return p, nil
}

// Build returns the provider the classifier should use: the failover chain
// when one is configured, otherwise the default provider.
func (f *Factory) Build() (domain.Provider, error) {
	if len(f.cfg.FailoverChain) == 0 {
		return f.Get("")
	}

	var chain []domain.Provider
	for _, name := range f.cfg.FailoverChain {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping provider in failover chain", "provider", name, "error", err)
			continue
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no usable provider in failover chain")
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return NewFailover(FailoverConfig{Providers: chain, Logger: f.logger}), nil
}
