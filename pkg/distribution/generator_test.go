package distribution

import (
	"math"
	"testing"
)

func TestConfigErrors(t *testing.T) {
	g := New(1)

	cases := []struct {
		name   string
		kind   Kind
		params Params
	}{
		{"normal bad std", Normal, Params{"media": 0, "std": 0}},
		{"uniform bad range", Uniform, Params{"min": 5, "max": 5}},
		{"exponential bad lambda", Exponential, Params{"lambda": 0}},
		{"lognormal bad sigma", Lognormal, Params{"mu": 0, "sigma": -1}},
		{"triangular bad order", Triangular, Params{"left": 10, "mode": 5, "right": 1}},
		{"binomial bad p", Binomial, Params{"n": 10, "p": 1.5}},
		{"binomial bad n", Binomial, Params{"n": 0, "p": 0.5}},
		{"missing params", Normal, Params{"media": 0}},
		{"unknown distribution", Kind("poisson"), Params{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := g.Draw(tc.kind, tc.params); err == nil {
				t.Fatalf("expected ConfigError, got nil")
			} else if _, ok := err.(*ConfigError); !ok {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
		})
	}
}

// statistical correctness: empirical mean/variance within 3 standard errors
// of theory over M=1e5 draws, per SPEC_FULL.md §8.
func TestStatisticalCorrectness(t *testing.T) {
	const m = 100_000

	check := func(t *testing.T, kind Kind, params Params, wantMean, wantVar float64) {
		t.Helper()
		g := New(42)
		samples, err := g.GenerateBatch(kind, params, m)
		if err != nil {
			t.Fatalf("GenerateBatch: %v", err)
		}
		mean, variance := meanVariance(samples)

		meanSE := math.Sqrt(wantVar / m)
		if math.Abs(mean-wantMean) > 3*meanSE+1e-9 {
			t.Errorf("mean %.6f want %.6f (3SE=%.6f)", mean, wantMean, 3*meanSE)
		}
		varSE := wantVar * math.Sqrt(2.0/m)
		if math.Abs(variance-wantVar) > 3*varSE+1e-6 {
			t.Errorf("variance %.6f want %.6f (3SE=%.6f)", variance, wantVar, 3*varSE)
		}
	}

	t.Run("normal", func(t *testing.T) {
		check(t, Normal, Params{"media": 3, "std": 2}, 3, 4)
	})
	t.Run("uniform", func(t *testing.T) {
		check(t, Uniform, Params{"min": 0, "max": 10}, 5, 100.0/12.0)
	})
	t.Run("exponential", func(t *testing.T) {
		check(t, Exponential, Params{"lambda": 2}, 0.5, 0.25)
	})
	t.Run("triangular", func(t *testing.T) {
		a, b, c := 0.0, 10.0, 3.0 // left, right, mode
		wantMean := (a + b + c) / 3.0
		wantVar := (a*a + b*b + c*c - a*b - a*c - b*c) / 18.0
		check(t, Triangular, Params{"left": a, "mode": c, "right": b}, wantMean, wantVar)
	})
	t.Run("binomial", func(t *testing.T) {
		check(t, Binomial, Params{"n": 20, "p": 0.3}, 6, 4.2)
	})
	t.Run("lognormal", func(t *testing.T) {
		mu, sigma := 0.0, 0.5
		wantMean := math.Exp(mu + sigma*sigma/2)
		wantVar := (math.Exp(sigma*sigma) - 1) * math.Exp(2*mu+sigma*sigma)
		check(t, Lognormal, Params{"mu": mu, "sigma": sigma}, wantMean, wantVar)
	})
}

func meanVariance(samples []float64) (mean, variance float64) {
	n := float64(len(samples))
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean = sum / n
	var ss float64
	for _, v := range samples {
		d := v - mean
		ss += d * d
	}
	variance = ss / n
	return
}

func TestGenerateBatchDeterministicPerSeed(t *testing.T) {
	g1 := New(7)
	g2 := New(7)
	a, _ := g1.GenerateBatch(Normal, Params{"media": 0, "std": 1}, 10)
	b, _ := g2.GenerateBatch(Normal, Params{"media": 0, "std": 1}, 10)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced divergent sequences at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}
