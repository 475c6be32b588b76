package translate

import (
	"context"
	"fmt"
	"strings"

	"chattranslator/internal/config"
)

// NewBackends builds every backend named in the translation config.
func NewBackends(ctx context.Context, cfg *config.Config) (map[string]Backend, error) {
	backends := make(map[string]Backend, len(cfg.Translation.Backends))
	for name, bc := range cfg.Translation.Backends {
		switch strings.ToLower(bc.Type) {
		case "stub":
			backends[name] = StubBackend{}
		case "http":
			if bc.URL == "" {
				return nil, fmt.Errorf("backend %s: url must be configured", name)
			}
			backends[name] = NewHTTPBackend(bc.URL, nil)
		case "llm":
			provCfg, ok := cfg.Providers[bc.Provider]
			if !ok {
				return nil, fmt.Errorf("backend %s: unknown provider %q", name, bc.Provider)
			}
			b, err := NewLLMBackend(ctx, bc.Provider, provCfg, bc.Model)
			if err != nil {
				return nil, fmt.Errorf("backend %s: %w", name, err)
			}
			backends[name] = b
		default:
			return nil, fmt.Errorf("backend %s: unsupported type %q", name, bc.Type)
		}
	}
	return backends, nil
}
