package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/xuri/excelize/v2"
)

// Fatal validation errors. Row-level problems never surface here; they
// are reported through RowOutcome instead.
var (
	ErrMalformedFile   = errors.New("file structure is malformed")
	ErrMissingColumns  = errors.New("required columns are missing")
	ErrTooManyRows     = errors.New("file exceeds the maximum row count")
	ErrTooManyFailures = errors.New("error budget exhausted")
)

// RowOutcome is the validation result of a single data row. Exactly one
// of Normalized and Err is set.
type RowOutcome struct {
	Index      int64
	Raw        map[string]string
	Normalized *NormalizedRow
	Err        *RowError
}

// Stats summarizes a completed validation pass
type Stats struct {
	Total  int64
	Valid  int64
	Failed int64
}

// EmitFunc receives each row outcome in file order. Returning an error
// aborts the pass.
type EmitFunc func(RowOutcome) error

// CheckpointFunc is called every ProgressCheckpoint rows with the
// running totals.
type CheckpointFunc func(stats Stats)

// Validator streams upload files row by row, so memory stays flat
// regardless of file size.
type Validator struct {
	cfg config.IngestionConfig
}

func NewValidator(cfg config.IngestionConfig) *Validator {
	if cfg.ProgressCheckpoint < 1 {
		cfg.ProgressCheckpoint = 500
	}
	if cfg.MaxRows < 1 {
		cfg.MaxRows = 1_000_000
	}
	return &Validator{cfg: cfg}
}

// Stream parses and validates the file, emitting one outcome per data
// row. A returned error is fatal for the whole upload: the header is
// unusable, the file is structurally broken, or the error budget is
// spent. Row-level failures are not errors; they come back counted in
// Stats and reported through emit.
func (v *Validator) Stream(ctx context.Context, r io.Reader, fileType models.UploadFileType, emit EmitFunc, checkpoint CheckpointFunc) (Stats, error) {
	switch fileType {
	case models.UploadFileTypeCSV:
		return v.streamCSV(ctx, r, emit, checkpoint)
	case models.UploadFileTypeXLSX:
		return v.streamXLSX(ctx, r, emit, checkpoint)
	default:
		return Stats{}, fmt.Errorf("%w: unsupported file type %q", ErrMalformedFile, fileType)
	}
}

func (v *Validator) streamCSV(ctx context.Context, r io.Reader, emit EmitFunc, checkpoint CheckpointFunc) (Stats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: cannot read header row: %v", ErrMalformedFile, err)
	}
	index, missing := headerIndex(header)
	if len(missing) > 0 {
		return Stats{}, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var stats Stats
	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return stats, fmt.Errorf("%w: row %d: %v", ErrMalformedFile, parseErr.Line, parseErr.Err)
			}
			return stats, fmt.Errorf("%w: %v", ErrMalformedFile, err)
		}

		if err := v.processRecord(header, index, record, seen, &stats, emit, checkpoint); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (v *Validator) streamXLSX(ctx context.Context, r io.Reader, emit EmitFunc, checkpoint CheckpointFunc) (Stats, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Stats{}, fmt.Errorf("%w: workbook has no sheets", ErrMalformedFile)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Stats{}, fmt.Errorf("%w: cannot read header row", ErrMalformedFile)
	}
	header, err := rows.Columns()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	index, missing := headerIndex(header)
	if len(missing) > 0 {
		return Stats{}, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var stats Stats
	seen := make(map[string]struct{})
	for rows.Next() {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		record, err := rows.Columns()
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrMalformedFile, err)
		}
		if isEmptyRecord(record) {
			continue
		}

		if err := v.processRecord(header, index, record, seen, &stats, emit, checkpoint); err != nil {
			return stats, err
		}
	}
	if err := rows.Error(); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	return stats, nil
}

func (v *Validator) processRecord(header []string, index map[string]int, record []string, seen map[string]struct{}, stats *Stats, emit EmitFunc, checkpoint CheckpointFunc) error {
	stats.Total++
	if stats.Total > int64(v.cfg.MaxRows) {
		return fmt.Errorf("%w: limit is %d", ErrTooManyRows, v.cfg.MaxRows)
	}

	outcome := RowOutcome{
		Index: stats.Total,
		Raw:   rawMap(header, record),
	}
	normalized, rowErr := validateRow(index, record, seen)
	if rowErr != nil {
		outcome.Err = rowErr
		stats.Failed++
	} else {
		outcome.Normalized = normalized
		stats.Valid++
	}
	if err := emit(outcome); err != nil {
		return err
	}

	if v.cfg.AbortAfterErrors > 0 && stats.Failed >= int64(v.cfg.AbortAfterErrors) {
		return fmt.Errorf("%w: %d failed rows", ErrTooManyFailures, stats.Failed)
	}
	if checkpoint != nil && stats.Total%int64(v.cfg.ProgressCheckpoint) == 0 {
		checkpoint(*stats)
	}
	return nil
}

func rawMap(header, record []string) map[string]string {
	raw := make(map[string]string, len(header))
	for i, h := range header {
		col := canonicalColumn(h)
		if col == "" {
			continue
		}
		if i < len(record) {
			raw[col] = strings.TrimSpace(record[i])
		} else {
			raw[col] = ""
		}
	}
	return raw
}

func isEmptyRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
