package forecast

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"ecoharvest/db"
)

var header = []interface{}{
	"Rain Fall (mm)", "Fertilizer", "Temperatue", "Nitrogen (N)", "Phosphorus (P)", "Potassium (K)", "Yeild (Q/acre)",
}

// syntheticRows is exactly linear in the encoded temperature; see yieldOf.
var syntheticRows = [][]interface{}{
	{1100, 60, 22, 70, 20, 15},
	{1250, 80, 24, 85, 30, 25},
	{900, 55, 25, 60, 18, 30},
	{1400, 90, 26, 95, 40, 10},
	{1000, 70, 27, 75, 22, 35},
	{1300, 65, 28, 80, 35, 20},
	{950, 85, 30, 65, 28, 40},
	{1150, 75, 31, 90, 25, 12},
	{1350, 50, 33, 55, 45, 28},
	{1050, 95, 35, 100, 15, 18},
}

func yieldOf(rain, fert, code, n, p, k float64) float64 {
	return 2.5 + 0.004*rain + 0.03*fert + 0.25*code + 0.05*n - 0.02*p + 0.07*k
}

func datasetRows(extra ...[]interface{}) [][]interface{} {
	rows := [][]interface{}{header}
	for code, r := range syntheticRows {
		y := yieldOf(toFloat(r[0]), toFloat(r[1]), float64(code), toFloat(r[3]), toFloat(r[4]), toFloat(r[5]))
		row := append(append([]interface{}{}, r...), y)
		rows = append(rows, row)
	}
	return append(rows, extra...)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func writeDataset(t *testing.T, dir, name string, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, name)
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

// countingSource wraps a directory and counts acquisitions.
type countingSource struct {
	dir   string
	err   error
	mu    sync.Mutex
	calls int
}

func (s *countingSource) Acquire(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.dir, nil
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memoryRecorder struct {
	mu          sync.Mutex
	trainings   []db.TrainingLog
	predictions []db.PredictionRecord
	err         error
}

func (m *memoryRecorder) SaveTrainingLog(entry db.TrainingLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainings = append(m.trainings, entry)
	return m.err
}

func (m *memoryRecorder) SavePrediction(p db.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions = append(m.predictions, p)
	return m.err
}

type eventLog struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (l *eventLog) PublishStatus(e StatusEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) statuses() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, len(l.events))
	for i, e := range l.events {
		out[i] = e.Status
	}
	return out
}

var errOffline = errors.New("network unreachable")
