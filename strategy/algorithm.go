package strategy

import (
	"fmt"
	"strconv"
	"strings"
)

// Props are algorithm properties as written in configuration.
type Props map[string]string

// Int returns a required integer property.
func (p Props) Int(key string) (int64, error) {
	raw, ok := p[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, fmt.Errorf("%w: %q is required", ErrInvalidProperty, key)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidProperty, key, err)
	}
	return n, nil
}

// String returns a required string property.
func (p Props) String(key string) (string, error) {
	raw, ok := p[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: %q is required", ErrInvalidProperty, key)
	}
	return strings.TrimSpace(raw), nil
}

// AlgorithmConfig names an algorithm type and its properties.
type AlgorithmConfig struct {
	Type  string `json:"type" yaml:"type"`
	Props Props  `json:"props" yaml:"props"`
}

// Config describes a sharding strategy.
type Config struct {
	// Type is one of none, standard, complex, hint.
	Type      string          `json:"type" yaml:"type"`
	Columns   []string        `json:"columns" yaml:"columns"`
	Algorithm AlgorithmConfig `json:"algorithm" yaml:"algorithm"`
}

// Factory builds an algorithm; the result implements at least one algorithm interface.
type Factory func(props Props) (any, error)

// Registry maps algorithm type names to factories. Register everything at startup; after that the
// registry is only read and may be shared.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the builtin algorithms.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("MOD", newModAlgorithm)
	r.Register("HASH_MOD", newHashModAlgorithm)
	r.Register("INLINE", newInlineAlgorithm)
	r.Register("COMPLEX_INLINE", newComplexInlineAlgorithm)
	r.Register("HINT_INLINE", newHintInlineAlgorithm)
	r.Register("BOUNDARY_RANGE", newBoundaryRangeAlgorithm)
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[strings.ToUpper(name)] = f
}

func (r *Registry) NewAlgorithm(cfg AlgorithmConfig) (any, error) {
	f, ok := r.factories[strings.ToUpper(cfg.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, cfg.Type)
	}
	alg, err := f(cfg.Props)
	if err != nil {
		return nil, fmt.Errorf("algorithm %s: %w", cfg.Type, err)
	}
	return alg, nil
}

// NewStrategy builds the strategy described by cfg; a nil cfg yields None.
func (r *Registry) NewStrategy(cfg *Config) (Strategy, error) {
	if cfg == nil || cfg.Type == "" || strings.EqualFold(cfg.Type, "none") {
		return None{}, nil
	}
	alg, err := r.NewAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Type) {
	case "standard":
		if len(cfg.Columns) != 1 {
			return nil, fmt.Errorf("%w: standard strategy takes exactly one column", ErrInvalidStrategy)
		}
		precise, ok := alg.(PreciseAlgorithm)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a precise algorithm", ErrInvalidStrategy, cfg.Algorithm.Type)
		}
		rng, _ := alg.(RangeAlgorithm)
		return NewStandard(cfg.Columns[0], precise, rng)
	case "complex":
		complexAlg, ok := alg.(ComplexAlgorithm)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a complex algorithm", ErrInvalidStrategy, cfg.Algorithm.Type)
		}
		return NewComplex(cfg.Columns, complexAlg)
	case "hint":
		hint, ok := alg.(HintAlgorithm)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a hint algorithm", ErrInvalidStrategy, cfg.Algorithm.Type)
		}
		return NewHint(hint)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidStrategy, cfg.Type)
}

// suffixTarget finds the target whose numeric suffix equals n. When none matches it returns the
// name the first target implies, letting the router report the undeclared node.
func suffixTarget(targets []string, n int64) string {
	for _, t := range targets {
		if s, ok := numericSuffix(t); ok && s == n {
			return t
		}
	}
	if len(targets) == 0 {
		return strconv.FormatInt(n, 10)
	}
	prefix := targets[0]
	if i := strings.LastIndexByte(prefix, '_'); i >= 0 {
		prefix = prefix[:i+1]
	} else {
		prefix += "_"
	}
	return prefix + strconv.FormatInt(n, 10)
}
