// Package artifact publishes aggregation results for the presentation
// layer: a JSON document per mission-computation pair, plus a CSV outlay
// export matching the format the site generator charts. A status field
// distinguishes failed and pending computations from a successful empty
// result.
package artifact

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/planetary-society/missionspend/aggregate"
	"github.com/planetary-society/missionspend/cache"
	"github.com/planetary-society/missionspend/orchestrate"
)

// Status of a published artifact.
type Status string

// Artifact statuses.
const (
	StatusComputed Status = "computed"
	StatusFailed   Status = "failed"
	StatusPending  Status = "pending"
)

// Document is the JSON artifact for one mission-computation pair.
type Document struct {
	MissionID   string                   `json:"mission_id"`
	MissionName string                   `json:"mission_name"`
	Kind        string                   `json:"kind"`
	Status      Status                   `json:"status"`
	Error       string                   `json:"error,omitempty"`
	GeneratedAt time.Time                `json:"generated_at"`
	Outlays     []aggregate.FiscalBucket `json:"outlays,omitempty"`
	Regions     []aggregate.RegionSpend  `json:"regions,omitempty"`
}

// Writer persists artifacts under an output directory.
type Writer struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter opens (creating if needed) the output directory.
func NewWriter(dir string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Writer{dir: dir, logger: logger, now: time.Now}, nil
}

// WriteResult publishes one mission result. Failed results produce a
// status document with the failure reason and no data rows.
func (w *Writer) WriteResult(res orchestrate.MissionResult) error {
	doc := Document{
		MissionID:   res.MissionID,
		MissionName: res.MissionName,
		Kind:        string(res.Kind),
		Status:      StatusComputed,
		GeneratedAt: w.now().UTC(),
	}
	switch {
	case res.State == orchestrate.StateFailed:
		doc.Status = StatusFailed
		if res.Err != nil {
			doc.Error = res.Err.Error()
		}
	case res.Kind == cache.KindOutlays:
		doc.Outlays = res.Outlays
	case res.Kind == cache.KindGeography:
		doc.Regions = res.Regions
	}

	name := fmt.Sprintf("%s_%s.json", res.MissionID, res.Kind)
	if err := w.writeJSON(name, doc); err != nil {
		return err
	}

	if doc.Status == StatusComputed && res.Kind == cache.KindOutlays {
		return w.writeOutlayCSV(res.MissionID, res.Outlays)
	}
	return nil
}

// WriteBatch publishes every result of a batch and a batch summary.
// Individual write failures are logged and the first is returned, so the
// remaining artifacts still land.
func (w *Writer) WriteBatch(report *orchestrate.BatchReport) error {
	var firstErr error
	for _, res := range report.Results {
		if err := w.WriteResult(res); err != nil {
			w.logger.Error("write artifact",
				slog.String("mission", res.MissionID),
				slog.String("kind", string(res.Kind)),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	summary := batchSummary(report)
	if err := w.writeJSON("batch_status.json", summary); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// BatchSummary is the batch-level status document.
type BatchSummary struct {
	BatchID    string              `json:"batch_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Missions   []MissionStatusLine `json:"missions"`
}

// MissionStatusLine is one row of the batch summary.
type MissionStatusLine struct {
	MissionID string `json:"mission_id"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	CacheHit  bool   `json:"cache_hit,omitempty"`
	Error     string `json:"error,omitempty"`
}

func batchSummary(report *orchestrate.BatchReport) BatchSummary {
	summary := BatchSummary{
		BatchID:    report.BatchID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	for _, res := range report.Results {
		line := MissionStatusLine{
			MissionID: res.MissionID,
			Kind:      string(res.Kind),
			State:     string(res.State),
			CacheHit:  res.CacheHit,
		}
		if res.Err != nil {
			line.Error = res.Err.Error()
		}
		summary.Missions = append(summary.Missions, line)
	}
	return summary
}

// writeOutlayCSV exports the cumulative series in the site generator's
// column layout.
func (w *Writer) writeOutlayCSV(missionID string, series []aggregate.FiscalBucket) error {
	path := filepath.Join(w.dir, missionID+"_outlays.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create outlay csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"fiscal_year", "cumulative_obligated", "transaction_count"}); err != nil {
		return fmt.Errorf("write outlay csv header: %w", err)
	}
	for _, bucket := range series {
		row := []string{
			strconv.Itoa(bucket.FiscalYear),
			bucket.Cumulative.StringFixed(2),
			strconv.Itoa(bucket.Transactions),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write outlay csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush outlay csv: %w", err)
	}
	return f.Close()
}

func (w *Writer) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", name, err)
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	return nil
}
