package mapping

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// DefaultExportName is the filename the delimited export is saved under when
// the caller provides none.
const DefaultExportName = "mapping-data.csv"

// WriteDelimited writes one header line of column display names followed by
// one line per row in column order. Fields containing the delimiter, quotes,
// or newlines are quoted with internal quotes doubled; missing values render
// as empty strings.
func WriteDelimited(w io.Writer, rows []Row, cols []ColumnSpec) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Display
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			v, _ := row.Get(c.Key)
			record[i] = stringValue(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ToDelimitedText renders rows as delimited text per WriteDelimited.
func ToDelimitedText(rows []Row, cols []ColumnSpec) (string, error) {
	var sb strings.Builder
	if err := WriteDelimited(&sb, rows, cols); err != nil {
		return "", err
	}
	return sb.String(), nil
}
