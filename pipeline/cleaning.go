package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"ecoharvest/ml"
)

var (
	// ErrMissingColumn 缺少必需列
	ErrMissingColumn = errors.New("required column missing")
	// ErrNonNumeric 数值列中出现非数值内容
	ErrNonNumeric = errors.New("non-numeric value in numeric column")
	// ErrEmptySheet 工作表为空
	ErrEmptySheet = errors.New("sheet has no header row")
)

// Column 训练所需的逻辑列
type Column string

const (
	ColumnRainfall    Column = "rainfall"
	ColumnFertilizer  Column = "fertilizer"
	ColumnTemperature Column = "temperature"
	ColumnNitrogen    Column = "nitrogen"
	ColumnPhosphorus  Column = "phosphorus"
	ColumnPotassium   Column = "potassium"
	ColumnYield       Column = "yield"
)

// RequiredColumns 固定顺序的七个列
var RequiredColumns = []Column{
	ColumnRainfall,
	ColumnFertilizer,
	ColumnTemperature,
	ColumnNitrogen,
	ColumnPhosphorus,
	ColumnPotassium,
	ColumnYield,
}

// columnAliases 表头别名（数据集原文拼写为 Temperatue 与 Yeild）
var columnAliases = map[Column][]string{
	ColumnRainfall:    {"Rain Fall (mm)", "Rainfall (mm)", "Rainfall"},
	ColumnFertilizer:  {"Fertilizer", "Fertilizer (kg/acre)"},
	ColumnTemperature: {"Temperatue", "Temperature", "Temperature (C)"},
	ColumnNitrogen:    {"Nitrogen (N)", "Nitrogen"},
	ColumnPhosphorus:  {"Phosphorus (P)", "Phosphorus"},
	ColumnPotassium:   {"Potassium (K)", "Potassium"},
	ColumnYield:       {"Yeild (Q/acre)", "Yield (Q/acre)", "Yield"},
}

// missingMarkers 缺失值标记（小写比较），含 Excel 错误值 #N/A
var missingMarkers = map[string]bool{
	"":         true,
	"nan":      true,
	"-nan":     true,
	"na":       true,
	"n/a":      true,
	"#na":      true,
	"#n/a":     true,
	"#n/a n/a": true,
	"<na>":     true,
	"null":     true,
	"none":     true,
	"1.#ind":   true,
	"-1.#ind":  true,
	"1.#qnan":  true,
	"-1.#qnan": true,
}

// Table 工作表的表头与数据行
type Table struct {
	Header []string
	Rows   [][]string
}

// LoadWorkbook 读取第一个工作表，第一行为表头
func LoadWorkbook(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}

	table := &Table{Header: rows[0], Rows: make([][]string, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		// excelize 会截掉行尾空单元格
		padded := make([]string, len(table.Header))
		copy(padded, row)
		table.Rows = append(table.Rows, padded)
	}
	return table, nil
}

// normalizeHeader 统一Unicode形式、空白与大小写
func normalizeHeader(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Fold().String(s)
}

// ResolveColumns 将逻辑列映射到表头下标
func ResolveColumns(header []string) (map[Column]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		key := normalizeHeader(name)
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	resolved := make(map[Column]int, len(RequiredColumns))
	var missing []string
	for _, col := range RequiredColumns {
		found := false
		for _, alias := range columnAliases[col] {
			if i, ok := index[normalizeHeader(alias)]; ok {
				resolved[col] = i
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, fmt.Sprintf("%s (%s)", col, columnAliases[col][0]))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return resolved, nil
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// DataCleaner 将工作表转换为训练记录：含缺失值的行整行丢弃
type DataCleaner struct {
	stats     CleaningStats
	statsLock sync.RWMutex
}

// NewDataCleaner 创建数据清洗器
func NewDataCleaner() *DataCleaner {
	return &DataCleaner{
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
	}
}

// Clean 清洗数据。缺失值只导致丢行；数值列中的文本视为结构错误
func (dc *DataCleaner) Clean(table *Table) ([]ml.TrainingRecord, error) {
	if table == nil || len(table.Header) == 0 {
		return nil, ErrEmptySheet
	}
	cols, err := ResolveColumns(table.Header)
	if err != nil {
		return nil, err
	}

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	records := make([]ml.TrainingRecord, 0, len(table.Rows))
	for i, row := range table.Rows {
		dc.stats.TotalProcessed++
		if hasMissing(row) {
			dc.stats.Rejected++
			dc.stats.Issues["missing_value"]++
			continue
		}

		record, err := buildRecord(row, cols)
		if err != nil {
			dc.stats.Issues["non_numeric"]++
			// 表头占第一行
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		dc.stats.Passed++
		records = append(records, record)
	}
	dc.stats.LastClean = time.Now()
	return records, nil
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

func hasMissing(row []string) bool {
	for _, cell := range row {
		if missingMarkers[strings.ToLower(strings.TrimSpace(cell))] {
			return true
		}
	}
	return false
}

func buildRecord(row []string, cols map[Column]int) (ml.TrainingRecord, error) {
	var values [6]float64
	numeric := []Column{
		ColumnRainfall,
		ColumnFertilizer,
		ColumnNitrogen,
		ColumnPhosphorus,
		ColumnPotassium,
		ColumnYield,
	}
	for i, col := range numeric {
		raw := strings.TrimSpace(row[cols[col]])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return ml.TrainingRecord{}, fmt.Errorf("%w: %s=%q", ErrNonNumeric, col, raw)
		}
		values[i] = v
	}
	return ml.TrainingRecord{
		Rainfall:    values[0],
		Fertilizer:  values[1],
		Temperature: ml.CanonicalTemperatureLabel(row[cols[ColumnTemperature]]),
		Nitrogen:    values[2],
		Phosphorus:  values[3],
		Potassium:   values[4],
		Yield:       values[5],
	}, nil
}

// LoadRecords 读取工作表并清洗
func LoadRecords(path string) ([]ml.TrainingRecord, CleaningStats, error) {
	table, err := LoadWorkbook(path)
	if err != nil {
		return nil, CleaningStats{}, err
	}
	cleaner := NewDataCleaner()
	records, err := cleaner.Clean(table)
	return records, cleaner.GetStats(), err
}
