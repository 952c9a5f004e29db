// Package records parses tabular record files into the field maps the
// render pipeline consumes.
package records

import (
	"encoding/csv"
	"io"
	"strings"

	"certmill/internal/pkg/errors"
	"certmill/internal/render"
)

// ReadCSV parses a CSV stream into a header list and one record per
// data row. The first row is the header; header names are trimmed.
// Missing trailing cells become empty strings, and rows whose cells
// are all empty are skipped.
func ReadCSV(r io.Reader) ([]string, []render.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // ragged rows are normalized below
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, errors.Wrap(err, "records.csv", "failed to parse CSV")
	}
	if len(rows) == 0 {
		return nil, nil, errors.Validation("record file is empty")
	}

	headers := make([]string, 0, len(rows[0]))
	for _, h := range rows[0] {
		headers = append(headers, strings.TrimSpace(h))
	}
	if len(headers) == 0 || allEmpty(headers) {
		return nil, nil, errors.Validation("record file has no header row")
	}

	var out []render.Record
	for _, row := range rows[1:] {
		if allEmpty(row) {
			continue
		}
		rec := make(render.Record, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(row) {
				rec[h] = strings.TrimSpace(row[i])
			} else {
				rec[h] = ""
			}
		}
		out = append(out, rec)
	}
	return headers, out, nil
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
