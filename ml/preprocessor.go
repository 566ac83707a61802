package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FallbackCode is the code assigned to labels never seen during fitting.
const FallbackCode = 0

var ErrUnseenLabel = errors.New("label not seen during fitting")

// CategoricalEncoder maps distinct labels to dense codes 0..K-1 in sorted
// label order. Classes is immutable after FitEncoder.
type CategoricalEncoder struct {
	Classes []string
}

// EncodedLabel is the result of a lenient lookup.
type EncodedLabel struct {
	Code     int
	Fallback bool
}

func FitEncoder(labels []string) (*CategoricalEncoder, error) {
	if len(labels) == 0 {
		return nil, errors.New("labels is empty")
	}
	seen := make(map[string]struct{}, len(labels))
	classes := make([]string, 0)
	for _, label := range labels {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		classes = append(classes, label)
	}
	sort.Strings(classes)
	return &CategoricalEncoder{Classes: classes}, nil
}

// Transform is the strict lookup.
func (e *CategoricalEncoder) Transform(label string) (int, error) {
	i := sort.SearchStrings(e.Classes, label)
	if i < len(e.Classes) && e.Classes[i] == label {
		return i, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnseenLabel, label)
}

// TransformAll encodes every label strictly.
func (e *CategoricalEncoder) TransformAll(labels []string) ([]int, error) {
	codes := make([]int, len(labels))
	for i, label := range labels {
		code, err := e.Transform(label)
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

// Lookup never fails: unseen labels take the Fallback(code=0) branch.
func (e *CategoricalEncoder) Lookup(label string) EncodedLabel {
	code, err := e.Transform(label)
	if err != nil {
		return EncodedLabel{Code: FallbackCode, Fallback: true}
	}
	return EncodedLabel{Code: code}
}

func (e *CategoricalEncoder) Inverse(code int) (string, bool) {
	if code < 0 || code >= len(e.Classes) {
		return "", false
	}
	return e.Classes[code], true
}

func (e *CategoricalEncoder) Len() int {
	return len(e.Classes)
}

// TemperatureLabel renders a temperature value the way labels are keyed:
// integral values lose their fractional part so 28 and 28.0 agree.
func TemperatureLabel(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// CanonicalTemperatureLabel normalizes a raw spreadsheet cell.
func CanonicalTemperatureLabel(raw string) string {
	raw = strings.TrimSpace(raw)
	if v, err := strconv.ParseFloat(raw, 64); err == nil && isFinite(v) {
		return TemperatureLabel(v)
	}
	return raw
}
