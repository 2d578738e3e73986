package telemetry

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jihwankim/montecarlo-mesh/pkg/model"
)

func sampleAggregator() *Aggregator {
	a := New(Config{ConvergenceSampleStride: 2})
	a.ApplyModel(&model.Model{ModelID: "demo_1700000000"})
	for i := uint(0); i < 4; i++ {
		a.ApplyResult(model.Result{ScenarioID: i, ConsumerID: "c1", Value: float64(i) + 1, ExecDurationSec: 0.01})
	}
	return a
}

func TestExportJSONRoundTrips(t *testing.T) {
	a := sampleAggregator()

	out, err := a.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}

	var decoded jsonExport
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if decoded.Metadata.NumResults != 4 {
		t.Fatalf("Metadata.NumResults = %d, want 4", decoded.Metadata.NumResults)
	}
	if decoded.Statistics.N != 4 {
		t.Fatalf("Statistics.N = %d, want 4", decoded.Statistics.N)
	}
	if len(decoded.ResultsDetailed) != 4 {
		t.Fatalf("len(ResultsDetailed) = %d, want 4", len(decoded.ResultsDetailed))
	}
	if len(decoded.Convergence) != 2 {
		t.Fatalf("len(Convergence) = %d, want 2", len(decoded.Convergence))
	}
}

func TestExportCSVIncludesMetadataComments(t *testing.T) {
	a := sampleAggregator()

	out, err := a.ExportCSV(true)
	if err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if !strings.HasPrefix(lines[0], "# n,") {
		t.Fatalf("first line = %q, want a '# n,...' comment line", lines[0])
	}

	var headerLine string
	for _, l := range lines {
		if strings.HasPrefix(l, "scenarioID") {
			headerLine = l
			break
		}
	}
	if headerLine != "scenarioID,result,consumerID,execDurationSec" {
		t.Fatalf("header line = %q, want scenarioID,result,consumerID,execDurationSec", headerLine)
	}

	if !strings.Contains(out, "1.000000") {
		t.Fatalf("expected a 6-decimal-formatted value in output, got %q", out)
	}
}

func TestExportCSVWithoutMetadataOmitsComments(t *testing.T) {
	a := sampleAggregator()

	out, err := a.ExportCSV(false)
	if err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}
	if strings.HasPrefix(out, "#") {
		t.Fatalf("expected no comment lines when includeMetadata=false, got %q", out)
	}
}

func TestExportStatsCSVHasTwoColumns(t *testing.T) {
	a := sampleAggregator()

	out, err := a.ExportStatsCSV()
	if err != nil {
		t.Fatalf("ExportStatsCSV() error = %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "statisticName,value" {
		t.Fatalf("header = %q, want statisticName,value", lines[0])
	}
	if len(lines) < 2 {
		t.Fatalf("expected at least one stat row, got %d lines", len(lines))
	}
}

func TestExportConvergenceCSVHasExpectedColumns(t *testing.T) {
	a := sampleAggregator()

	out, err := a.ExportConvergenceCSV()
	if err != nil {
		t.Fatalf("ExportConvergenceCSV() error = %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "n,mean,variance,atUTC" {
		t.Fatalf("header = %q, want n,mean,variance,atUTC", lines[0])
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3 (header + 2 sampled points)", len(lines))
	}
}

func TestExportOnEmptyAggregatorDoesNotError(t *testing.T) {
	a := New(Config{})

	if _, err := a.ExportJSON(); err != nil {
		t.Fatalf("ExportJSON() on empty aggregator error = %v", err)
	}
	if _, err := a.ExportCSV(true); err != nil {
		t.Fatalf("ExportCSV() on empty aggregator error = %v", err)
	}
	if _, err := a.ExportStatsCSV(); err != nil {
		t.Fatalf("ExportStatsCSV() on empty aggregator error = %v", err)
	}
	if _, err := a.ExportConvergenceCSV(); err != nil {
		t.Fatalf("ExportConvergenceCSV() on empty aggregator error = %v", err)
	}
}
