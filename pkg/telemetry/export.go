package telemetry

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// exportMetadata is the JSON export's metadata block.
type exportMetadata struct {
	ExportedAt string      `json:"exportedAt"`
	NumResults int         `json:"numResults"`
	Model      interface{} `json:"model"`
}

// jsonExport is the full shape returned by ExportJSON.
type jsonExport struct {
	Metadata        exportMetadata     `json:"metadata"`
	Statistics      Statistics         `json:"statistics"`
	NormalityTests  NormalityReport    `json:"normalityTests"`
	Results         []float64          `json:"results"`
	ResultsDetailed []resultExportRow  `json:"resultsDetailed"`
	Convergence     []ConvergencePoint `json:"convergence"`
}

type resultExportRow struct {
	ScenarioID      uint    `json:"scenarioID"`
	ConsumerID      string  `json:"consumerID"`
	Value           float64 `json:"resultado"`
	ExecDurationSec float64 `json:"tiempo_ejecucion"`
}

// ExportJSON returns the full live view — statistics, normality, results,
// detailed results, and convergence history — as indented JSON, all floats
// at full precision.
func (a *Aggregator) ExportJSON() (string, error) {
	snap := a.Snapshot()

	rows := make([]resultExportRow, len(snap.ResultsRaw))
	for i, r := range snap.ResultsRaw {
		rows[i] = resultExportRow{
			ScenarioID:      r.ScenarioID,
			ConsumerID:      r.ConsumerID,
			Value:           r.Value,
			ExecDurationSec: r.ExecDurationSec,
		}
	}

	var modelField interface{}
	if snap.ModelInfo != nil {
		modelField = snap.ModelInfo
	}

	out := jsonExport{
		Metadata: exportMetadata{
			ExportedAt: time.Now().UTC().Format(time.RFC3339),
			NumResults: len(snap.Results),
			Model:      modelField,
		},
		Statistics:      ComputeStatistics(snap.Results),
		NormalityTests:  ComputeNormality(snap.Results),
		Results:         snap.Results,
		ResultsDetailed: rows,
		Convergence:     snap.Convergence,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal telemetry export: %w", err)
	}
	return string(data), nil
}

// ExportCSV returns resultsRaw as CSV, preceded (when includeMetadata is
// true) by comment lines carrying the descriptive statistics, one
// `# name,value` line per statistic. The header row is
// scenarioID,result,consumerID,execDurationSec; numeric columns are
// formatted to 6 decimals.
func (a *Aggregator) ExportCSV(includeMetadata bool) (string, error) {
	snap := a.Snapshot()
	stats := ComputeStatistics(snap.Results)

	var buf bytes.Buffer
	if includeMetadata {
		for _, line := range statLines(stats) {
			buf.WriteString("# " + line + "\n")
		}
	}

	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"scenarioID", "result", "consumerID", "execDurationSec"}); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range snap.ResultsRaw {
		row := []string{
			fmt.Sprintf("%d", r.ScenarioID),
			fmt.Sprintf("%.6f", r.Value),
			r.ConsumerID,
			fmt.Sprintf("%.6f", r.ExecDurationSec),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}

// ExportStatsCSV returns the descriptive statistics as a two-column
// statisticName,value table.
func (a *Aggregator) ExportStatsCSV() (string, error) {
	snap := a.Snapshot()
	stats := ComputeStatistics(snap.Results)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"statisticName", "value"}); err != nil {
		return "", fmt.Errorf("write stats csv header: %w", err)
	}
	for _, line := range statLines(stats) {
		name, value, _ := splitStatLine(line)
		if err := w.Write([]string{name, value}); err != nil {
			return "", fmt.Errorf("write stats csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush stats csv: %w", err)
	}
	return buf.String(), nil
}

// ExportConvergenceCSV returns the convergence history as
// n,mean,variance,atUTC rows.
func (a *Aggregator) ExportConvergenceCSV() (string, error) {
	snap := a.Snapshot()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"n", "mean", "variance", "atUTC"}); err != nil {
		return "", fmt.Errorf("write convergence csv header: %w", err)
	}
	for _, c := range snap.Convergence {
		atUTC := time.Unix(0, int64(c.AtUnixSec*1e9)).UTC().Format(time.RFC3339)
		row := []string{
			fmt.Sprintf("%d", c.N),
			fmt.Sprintf("%.6f", c.RunningMean),
			fmt.Sprintf("%.6f", c.RunningVariance),
			atUTC,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write convergence csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush convergence csv: %w", err)
	}
	return buf.String(), nil
}

// statLines renders Statistics as "name,value" lines, the shared source
// for both the CSV comment header and exportStatsCSV's rows.
func statLines(s Statistics) []string {
	return []string{
		fmt.Sprintf("n,%d", s.N),
		fmt.Sprintf("mean,%.6f", s.Mean),
		fmt.Sprintf("median,%.6f", s.Median),
		fmt.Sprintf("stddev,%.6f", s.StdDev),
		fmt.Sprintf("variance,%.6f", s.Variance),
		fmt.Sprintf("min,%.6f", s.Min),
		fmt.Sprintf("max,%.6f", s.Max),
		fmt.Sprintf("p25,%.6f", s.P25),
		fmt.Sprintf("p75,%.6f", s.P75),
		fmt.Sprintf("p95,%.6f", s.P95),
		fmt.Sprintf("p99,%.6f", s.P99),
		fmt.Sprintf("ci95Lower,%.6f", s.CI95Lower),
		fmt.Sprintf("ci95Upper,%.6f", s.CI95Upper),
	}
}

// splitStatLine splits a "name,value" line produced by statLines.
func splitStatLine(line string) (name, value string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] == ',' {
			return line[:i], line[i+1:], true
		}
	}
	return line, "", false
}

// ResultsFileName and SimulationFileName build the advisory export file names of
// spec.md §6: resultados_YYYYMMDD_HHMMSS.csv, simulacion_YYYYMMDD_HHMMSS.json.
func ResultsFileName(at time.Time) string {
	return fmt.Sprintf("resultados_%s.csv", at.Format("20060102_150405"))
}

func SimulationFileName(at time.Time) string {
	return fmt.Sprintf("simulacion_%s.json", at.Format("20060102_150405"))
}
