package main

import (
	"os"
	"path/filepath"
	"testing"

	"ecoharvest/ml"
)

func TestSplitDataset(t *testing.T) {
	records := make([]ml.TrainingRecord, 10)
	for i := range records {
		records[i].Yield = float64(i)
	}

	tests := []struct {
		name      string
		ratio     float64
		wantTrain int
		wantTest  int
	}{
		{"default", 0.2, 8, 2},
		{"disabled", 0, 10, 0},
		{"out of range", 1.5, 10, 0},
		{"too few training rows", 0.95, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			train, test := splitDataset(records, tt.ratio)
			if len(train) != tt.wantTrain || len(test) != tt.wantTest {
				t.Fatalf("expected %d/%d, got %d/%d", tt.wantTrain, tt.wantTest, len(train), len(test))
			}
			if len(test) > 0 && test[0].Yield != float64(tt.wantTrain) {
				t.Fatalf("expected ordered split, got first test row %v", test[0].Yield)
			}
		})
	}
}

func TestResolveDataFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "yield.xlsx")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := resolveDataFile(file, "crop yield data sheet.xlsx", ".xlsx")
	if err != nil || got != file {
		t.Fatalf("expected file passthrough, got %q %v", got, err)
	}
	got, err = resolveDataFile(dir, "crop yield data sheet.xlsx", ".xlsx")
	if err != nil || got != file {
		t.Fatalf("expected extension fallback, got %q %v", got, err)
	}
	if _, err := resolveDataFile(filepath.Join(dir, "missing"), "a", ".xlsx"); err == nil {
		t.Fatal("expected error for missing path")
	}
}
