package transform

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/danthegoodman1/etlpipe/table"
)

const utf8BOM = "\uFEFF"

func readCSV(name string, r io.Reader) (*table.Table, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(len(utf8BOM)); err == nil && string(bom) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, malformed(name, "no header row")
	}
	if err != nil {
		return nil, malformed(name, "error reading header: %s", err)
	}

	t := table.New()
	columns := headerColumns(header)
	for _, col := range columns {
		t.AddColumn(col)
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(name, "%s", err)
		}
		if len(record) > len(columns) {
			line, _ := cr.FieldPos(0)
			return nil, malformed(name, "expected %d fields on line %d, saw %d", len(columns), line, len(record))
		}

		row := make(table.Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = textCell(record[i])
			} else {
				row[col] = nil
			}
		}
		t.Rows = append(t.Rows, row)
	}

	inferNumericColumns(t)
	return t, nil
}

// headerColumns names empty headers "Unnamed: <i>" and renames duplicates to name.1, name.2...
func headerColumns(header []string) []string {
	used := make(map[string]bool, len(header))
	for _, h := range header {
		used[h] = true
	}

	columns := make([]string, len(header))
	counts := make(map[string]int, len(header))
	for i, h := range header {
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, dup := counts[h]; dup {
			name := h
			for {
				n++
				name = fmt.Sprintf("%s.%d", h, n)
				if !used[name] {
					break
				}
			}
			counts[h] = n
			used[name] = true
			columns[i] = name
			continue
		}
		counts[h] = 0
		used[h] = true
		columns[i] = h
	}
	return columns
}
