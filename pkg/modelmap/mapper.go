// Package modelmap resolves client model identifiers to backend model
// identifiers. Resolution is pure: the mapper is built once from
// configuration and never mutated.
package modelmap

import (
	"fmt"
	"strings"

	"github.com/wandlerhq/wandler/pkg/api"
)

// Source identifies which rule resolved a model identifier. The values
// double as metric label values.
type Source string

const (
	// SourceAlias means the identifier matched the alias table exactly.
	SourceAlias Source = "alias"

	// SourceBigClass means the identifier carried a large-class marker
	// and resolved to the configured big model.
	SourceBigClass Source = "big_class"

	// SourceSmallClass means the identifier carried a small-class marker
	// and resolved to the configured small model.
	SourceSmallClass Source = "small_class"
)

// providerPrefixes are stripped from incoming identifiers before any
// matching. Clients routed through aggregators often prepend these.
var providerPrefixes = []string{"openai/", "anthropic/", "gemini/"}

// Config declares the resolution table.
type Config struct {
	// BigModel is the backend model for large-class identifiers
	// (those containing "opus" or "sonnet").
	BigModel string

	// SmallModel is the backend model for small-class identifiers
	// (those containing "haiku").
	SmallModel string

	// Aliases maps exact client identifiers to backend models. Alias
	// matches take precedence over size-class inference.
	Aliases map[string]string
}

// Mapper resolves client model identifiers. Safe for concurrent use.
type Mapper struct {
	big     string
	small   string
	aliases map[string]string
}

// New builds a Mapper from the configured table. Both size-class
// defaults must be set; alias entries must be non-empty on both sides.
func New(cfg Config) (*Mapper, error) {
	if cfg.BigModel == "" {
		return nil, fmt.Errorf("modelmap: big model must not be empty")
	}
	if cfg.SmallModel == "" {
		return nil, fmt.Errorf("modelmap: small model must not be empty")
	}

	aliases := make(map[string]string, len(cfg.Aliases))
	for alias, backend := range cfg.Aliases {
		if alias == "" || backend == "" {
			return nil, fmt.Errorf("modelmap: alias entry %q -> %q has an empty side", alias, backend)
		}
		aliases[alias] = backend
	}

	return &Mapper{
		big:     cfg.BigModel,
		small:   cfg.SmallModel,
		aliases: aliases,
	}, nil
}

// Resolve maps a client model identifier to a backend model. The
// provider prefix is stripped first; then the alias table is consulted,
// then size-class inference. Identifiers matching neither fail with an
// unknown_model error.
func (m *Mapper) Resolve(model string) (string, Source, error) {
	cleaned := stripProviderPrefix(model)

	if backend, ok := m.aliases[cleaned]; ok {
		return backend, SourceAlias, nil
	}

	lower := strings.ToLower(cleaned)
	switch {
	case strings.Contains(lower, "opus"), strings.Contains(lower, "sonnet"):
		return m.big, SourceBigClass, nil
	case strings.Contains(lower, "haiku"):
		return m.small, SourceSmallClass, nil
	}

	return "", "", api.NewUnknownModelError(model)
}

// BigModel returns the configured large-class default.
func (m *Mapper) BigModel() string { return m.big }

// SmallModel returns the configured small-class default.
func (m *Mapper) SmallModel() string { return m.small }

// Aliases returns a copy of the alias table, for the service info surface.
func (m *Mapper) Aliases() map[string]string {
	out := make(map[string]string, len(m.aliases))
	for k, v := range m.aliases {
		out[k] = v
	}
	return out
}

func stripProviderPrefix(model string) string {
	for _, prefix := range providerPrefixes {
		if rest, ok := strings.CutPrefix(model, prefix); ok {
			return rest
		}
	}
	return model
}
