// Package distribution draws random variates for the six distributions a
// declarative model may specify: normal, uniform, exponential, lognormal,
// triangular, and binomial.
package distribution

import (
	"fmt"
	"math"
	"math/rand"
)

// Kind names a supported probability distribution.
type Kind string

const (
	Normal      Kind = "normal"
	Uniform     Kind = "uniform"
	Exponential Kind = "exponential"
	Lognormal   Kind = "lognormal"
	Triangular  Kind = "triangular"
	Binomial    Kind = "binomial"
)

// ConfigError reports an invalid parameter for a distribution.
type ConfigError struct {
	Dist   Kind
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("distribution %s: %s", e.Dist, e.Reason)
}

// Params is the raw key=value parameter set parsed from a model's variable
// line, e.g. {"media": 0, "std": 1}.
type Params map[string]float64

// Generator draws variates with its own seeded RNG. Generators are not
// safe for concurrent use; the Producer owns exactly one.
type Generator struct {
	rng *rand.Rand
}

// New creates a Generator seeded with seed. Two Generators built from the
// same seed draw identical sequences, which is what makes scenario
// generation reproducible for a given (modelID, seed) pair.
func New(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))} //nolint:gosec
}

// Draw produces one variate from the named distribution. kind must be one
// of the six supported Kind values; params must satisfy that
// distribution's constraints or Draw returns a *ConfigError.
func (g *Generator) Draw(kind Kind, params Params) (float64, error) {
	switch kind {
	case Normal:
		media, std, err := need2(kind, params, "media", "std")
		if err != nil {
			return 0, err
		}
		if std <= 0 {
			return 0, &ConfigError{kind, "std must be > 0"}
		}
		return media + std*g.rng.NormFloat64(), nil

	case Uniform:
		min, max, err := need2(kind, params, "min", "max")
		if err != nil {
			return 0, err
		}
		if !(min < max) {
			return 0, &ConfigError{kind, "min must be < max"}
		}
		return min + g.rng.Float64()*(max-min), nil

	case Exponential:
		lambda, err := need1(kind, params, "lambda")
		if err != nil {
			return 0, err
		}
		if lambda <= 0 {
			return 0, &ConfigError{kind, "lambda must be > 0"}
		}
		u := g.rng.Float64()
		for u == 0 {
			u = g.rng.Float64()
		}
		return -math.Log(u) / lambda, nil

	case Lognormal:
		mu, sigma, err := need2(kind, params, "mu", "sigma")
		if err != nil {
			return 0, err
		}
		if sigma <= 0 {
			return 0, &ConfigError{kind, "sigma must be > 0"}
		}
		return math.Exp(mu + sigma*g.rng.NormFloat64()), nil

	case Triangular:
		left, ok1 := params["left"]
		mode, ok2 := params["mode"]
		right, ok3 := params["right"]
		if !ok1 || !ok2 || !ok3 {
			return 0, &ConfigError{kind, "requires left, mode, right"}
		}
		if !(left <= mode && mode <= right) || !(left < right) {
			return 0, &ConfigError{kind, "requires left <= mode <= right and left < right"}
		}
		return g.triangular(left, right, mode), nil

	case Binomial:
		n, p, err := need2(kind, params, "n", "p")
		if err != nil {
			return 0, err
		}
		if n <= 0 || n != math.Trunc(n) {
			return 0, &ConfigError{kind, "n must be a positive integer"}
		}
		if p < 0 || p > 1 {
			return 0, &ConfigError{kind, "p must be in [0, 1]"}
		}
		var successes int
		for i := 0; i < int(n); i++ {
			if g.rng.Float64() < p {
				successes++
			}
		}
		return float64(successes), nil

	default:
		return 0, &ConfigError{kind, "unsupported distribution"}
	}
}

// GenerateBatch draws size independent variates, equivalent to size
// sequential calls to Draw.
func (g *Generator) GenerateBatch(kind Kind, params Params, size int) ([]float64, error) {
	out := make([]float64, size)
	for i := range out {
		v, err := g.Draw(kind, params)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// triangular samples from a triangular distribution on [lo, hi] with the
// given mode via inverse-CDF sampling.
func (g *Generator) triangular(lo, hi, mode float64) float64 {
	u := g.rng.Float64()
	fc := (mode - lo) / (hi - lo)
	if u < fc {
		return lo + math.Sqrt(u*(hi-lo)*(mode-lo))
	}
	return hi - math.Sqrt((1-u)*(hi-lo)*(hi-mode))
}

func need1(kind Kind, params Params, k string) (float64, error) {
	v, ok := params[k]
	if !ok {
		return 0, &ConfigError{kind, fmt.Sprintf("requires %s", k)}
	}
	return v, nil
}

func need2(kind Kind, params Params, k1, k2 string) (float64, float64, error) {
	v1, ok1 := params[k1]
	v2, ok2 := params[k2]
	if !ok1 || !ok2 {
		return 0, 0, &ConfigError{kind, fmt.Sprintf("requires %s, %s", k1, k2)}
	}
	return v1, v2, nil
}

// IsInteger reports whether kind produces integer-kind variates by
// definition (binomial); other distributions yield floats even when the
// model labels the bound variable "int" — callers round as needed.
func IsInteger(kind Kind) bool {
	return kind == Binomial
}
