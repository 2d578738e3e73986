package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jihwankim/montecarlo-mesh/pkg/logging"
	"github.com/jihwankim/montecarlo-mesh/pkg/telemetry"
)

// liveStats is the shape served by GET /stats: a compact, JSON-friendly
// view of the aggregator's current snapshot plus its derived statistics.
// Besides /stats and the four exports, the mux serves /healthz.
type liveStats struct {
	ModelID           string                     `json:"modelID,omitempty"`
	NumResults        int                        `json:"numResults"`
	Statistics        telemetry.Statistics       `json:"statistics"`
	NormalityTests    telemetry.NormalityReport  `json:"normalityTests"`
	ProducerStats     interface{}                `json:"producerStats,omitempty"`
	ConsumerStatsByID map[string]interface{}     `json:"consumerStatsByID,omitempty"`
	QueueSizes        map[string]int             `json:"queueSizes,omitempty"`
}

func newMux(agg *telemetry.Aggregator, logger *logging.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		snap := agg.Snapshot()

		consumerStats := make(map[string]interface{}, len(snap.ConsumerStatsByID))
		for id, s := range snap.ConsumerStatsByID {
			consumerStats[id] = s
		}

		var modelID string
		if snap.ModelInfo != nil {
			modelID = snap.ModelInfo.ModelID
		}
		var producerStats interface{}
		if snap.ProducerStats != nil {
			producerStats = snap.ProducerStats
		}

		out := liveStats{
			ModelID:           modelID,
			NumResults:        len(snap.Results),
			Statistics:        telemetry.ComputeStatistics(snap.Results),
			NormalityTests:    telemetry.ComputeNormality(snap.Results),
			ProducerStats:     producerStats,
			ConsumerStatsByID: consumerStats,
			QueueSizes:        snap.QueueSizes,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			logger.Error("encode /stats response", "error", err)
		}
	})

	mux.HandleFunc("/export/json", func(w http.ResponseWriter, r *http.Request) {
		out, err := agg.ExportJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(out))
	})

	mux.HandleFunc("/export/csv", func(w http.ResponseWriter, r *http.Request) {
		includeMetadata := true
		if v := r.URL.Query().Get("metadata"); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				includeMetadata = parsed
			}
		}
		out, err := agg.ExportCSV(includeMetadata)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(out))
	})

	mux.HandleFunc("/export/stats.csv", func(w http.ResponseWriter, r *http.Request) {
		out, err := agg.ExportStatsCSV()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(out))
	})

	mux.HandleFunc("/export/convergence.csv", func(w http.ResponseWriter, r *http.Request) {
		out, err := agg.ExportConvergenceCSV()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(out))
	})

	return mux
}
