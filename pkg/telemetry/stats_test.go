package telemetry

import (
	"math"
	"testing"
)

func TestComputeStatisticsEmpty(t *testing.T) {
	got := ComputeStatistics(nil)
	if got.N != 0 {
		t.Fatalf("N = %d, want 0", got.N)
	}
}

func TestComputeStatisticsKnownValues(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	got := ComputeStatistics(values)

	if got.N != 10 {
		t.Fatalf("N = %d, want 10", got.N)
	}
	if got.Mean != 5.5 {
		t.Fatalf("Mean = %v, want 5.5", got.Mean)
	}
	if got.Min != 1 || got.Max != 10 {
		t.Fatalf("Min/Max = %v/%v, want 1/10", got.Min, got.Max)
	}
	if got.CI95Lower >= got.Mean || got.CI95Upper <= got.Mean {
		t.Fatalf("CI95 [%v, %v] does not bracket mean %v", got.CI95Lower, got.CI95Upper, got.Mean)
	}
}

func TestComputeStatisticsSingleValue(t *testing.T) {
	got := ComputeStatistics([]float64{42})
	if got.N != 1 || got.Mean != 42 || got.Median != 42 {
		t.Fatalf("got %+v, want N=1 Mean=42 Median=42", got)
	}
	if got.StdDev != 0 {
		t.Fatalf("StdDev = %v, want 0 for a single sample", got.StdDev)
	}
}

func TestComputeNormalityTooFewSamples(t *testing.T) {
	got := ComputeNormality([]float64{1, 2, 3})
	if !got.LikelyNormal {
		t.Fatalf("LikelyNormal = false, want true when n < 8 (no evidence either way)")
	}
}

func TestComputeNormalitySymmetricSample(t *testing.T) {
	values := make([]float64, 0, 21)
	for i := -10; i <= 10; i++ {
		values = append(values, float64(i))
	}
	got := ComputeNormality(values)
	if math.Abs(got.Skewness) > 0.01 {
		t.Fatalf("Skewness = %v, want ~0 for a symmetric sample", got.Skewness)
	}
}
