package providers

import "errors"

// ChainEntry is one configured fallback candidate. Model may be empty,
// in which case the configured default model is used.
type ChainEntry struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
}

// ErrEmptyChain is returned when no provider can be resolved from the
// hint and configuration.
var ErrEmptyChain = errors.New("provider chain is empty")

// ResolveChain builds the ordered, de-duplicated list of candidates for
// one logical call. The caller's provider/model hint (either may be
// empty) produces the head of the chain; configured fallbacks follow in
// order. The returned chain is read-only: it is built once per call and
// never mutated.
func ResolveChain(hintProvider, hintModel, defaultProvider, defaultModel string, fallbacks []ChainEntry) ([]Handle, error) {
	var chain []Handle
	seen := map[string]bool{}

	add := func(provider, model string) {
		provider = NormalizeName(provider)
		if provider == "" {
			return
		}
		if model == "" {
			model = defaultModel
		}
		key := provider + ":" + model
		if seen[key] {
			return
		}
		seen[key] = true
		chain = append(chain, Handle{Provider: provider, Model: model, Index: len(chain)})
	}

	headProvider := hintProvider
	if headProvider == "" {
		headProvider = defaultProvider
	}
	headModel := hintModel
	if headModel == "" {
		headModel = defaultModel
	}
	add(headProvider, headModel)

	for _, fb := range fallbacks {
		add(fb.Provider, fb.Model)
	}

	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	return chain, nil
}
