// Package sheet reads the work list from an input spreadsheet and writes
// the flattened result table to an output spreadsheet.
package sheet

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/linetools/linecheck/pkg/client"
)

// ReadColumn reads a single named column of identifiers from the first
// sheet of an xlsx file. A missing file is an error; the run exits before
// dispatch.
func ReadColumn(path, column string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open input file %s: %w", path, err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheetName, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("input sheet %s is empty", sheetName)
	}

	colIdx := -1
	for i, header := range rows[0] {
		if header == column {
			colIdx = i
			break
		}
	}
	if colIdx == -1 {
		return nil, fmt.Errorf("column %q not found in input sheet", column)
	}

	var items []string
	for _, row := range rows[1:] {
		if colIdx >= len(row) {
			continue
		}
		if cell := row[colIdx]; cell != "" {
			items = append(items, cell)
		}
	}

	return items, nil
}

// WriteResults writes the flattened result table: one row per
// (item, response-element) pair. Columns are username followed by the
// union of element keys, sorted for a stable layout across runs.
func WriteResults(path string, results []client.Result, logger zerolog.Logger) error {
	type row struct {
		username string
		fields   map[string]any
	}

	var rows []row
	keySet := make(map[string]bool)

	for _, res := range results {
		if res.Failed() {
			continue
		}

		elements, err := decodeElements(res.Response)
		if err != nil {
			logger.Warn().Err(err).Str("username", res.Username).Msg("Skipping unflattenable response")
			continue
		}

		for _, elem := range elements {
			for key := range elem {
				keySet[key] = true
			}
			rows = append(rows, row{username: res.Username, fields: elem})
		}
	}

	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		if key != "username" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	headers := append([]string{"username"}, keys...)

	f := excelize.NewFile()
	defer f.Close()
	sheetName := f.GetSheetName(0)

	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for r, rw := range rows {
		for c, header := range headers {
			var value any
			if header == "username" {
				value = rw.username
			} else {
				v, ok := rw.fields[header]
				if !ok {
					continue
				}
				value = fmt.Sprint(v)
			}

			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return fmt.Errorf("data cell: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("write cell: %w", err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save output file %s: %w", path, err)
	}

	logger.Info().Str("path", path).Int("rows", len(rows)).Msg("Responses saved")
	return nil
}

// decodeElements interprets a response payload as a list of objects,
// falling back to a single object wrapped in a list.
func decodeElements(payload json.RawMessage) ([]map[string]any, error) {
	var elements []map[string]any
	if err := json.Unmarshal(payload, &elements); err == nil {
		return elements, nil
	}

	var single map[string]any
	if err := json.Unmarshal(payload, &single); err == nil {
		return []map[string]any{single}, nil
	}

	return nil, fmt.Errorf("response is neither an object list nor an object")
}
