package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// Format is an export file format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatExcel Format = "excel"
	FormatCSV   Format = "csv"
)

// ErrInvalidFormat is returned for unknown or disallowed format identifiers.
var ErrInvalidFormat = errors.New("Invalid format type")

// ParseFormat validates a format identifier against allowed.
func ParseFormat(s string, allowed ...Format) (Format, error) {
	f := Format(s)
	for _, a := range allowed {
		if f == a {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

// Content types of the produced artifacts.
const (
	ContentTypeJSON = "application/json; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeCSV  = "text/csv; charset=utf-8"
)

// Excel limits.
const (
	maxSheetTitle  = 31
	maxColumnWidth = 50
)

// Artifact is a serialized export ready to be sent as an attachment.
type Artifact struct {
	Filename    string
	ContentType string
	Body        []byte
}

// labeledRow marshals a row as a JSON object keyed by label in column order.
// Duplicate labels keep their first position and the last value.
type labeledRow struct {
	labels []string
	values map[string]any
}

func newLabeledRow(cols []Column, row Row) labeledRow {
	lr := labeledRow{values: make(map[string]any, len(cols))}
	for _, c := range cols {
		if _, dup := lr.values[c.Label]; !dup {
			lr.labels = append(lr.labels, c.Label)
		}
		lr.values[c.Label] = row[c.Field]
	}
	return lr
}

func (lr labeledRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, label := range lr.labels {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalLiteral(label)
		if err != nil {
			return nil, err
		}
		val, err := marshalLiteral(lr.values[label])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", label, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalLiteral encodes v without escaping HTML characters.
func marshalLiteral(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeJSON writes rows as a two-space indented array of objects.
func EncodeJSON(name string, cols []Column, rows []Row) (*Artifact, error) {
	out := make([]labeledRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, newLabeledRow(cols, row))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}

	return &Artifact{
		Filename:    name + "_export.json",
		ContentType: ContentTypeJSON,
		Body:        bytes.TrimRight(buf.Bytes(), "\n"),
	}, nil
}

// EncodeCSV writes a header row of labels followed by one row per record.
func EncodeCSV(name string, cols []Column, rows []Row) (*Artifact, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true

	record := make([]string, len(cols))
	for i, c := range cols {
		record[i] = c.Label
	}
	if err := w.Write(record); err != nil {
		return nil, err
	}
	for _, row := range rows {
		for i, c := range cols {
			record[i] = cellText(row[c.Field])
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}

	return &Artifact{
		Filename:    name + "_export.csv",
		ContentType: ContentTypeCSV,
		Body:        buf.Bytes(),
	}, nil
}

// EncodeExcel writes a single-sheet workbook. The sheet is titled by name cut
// to 31 characters; the file name keeps the full name.
func EncodeExcel(name string, cols []Column, rows []Row) (*Artifact, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := truncateRunes(name, maxSheetTitle)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("sheet name: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}

	widths := make([]int, len(cols))
	for i, c := range cols {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, c.Label); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return nil, err
		}
		widths[i] = utf8.RuneCountInString(c.Label)
	}

	for r, row := range rows {
		for i, c := range cols {
			v := row[c.Field]
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
			widths[i] = max(widths[i], utf8.RuneCountInString(cellText(v)))
		}
	}

	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheet, col, col, float64(min(w+2, maxColumnWidth))); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	return &Artifact{
		Filename:    name + "_export.xlsx",
		ContentType: ContentTypeXLSX,
		Body:        buf.Bytes(),
	}, nil
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
