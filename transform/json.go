package transform

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/danthegoodman1/etlpipe/table"
	"github.com/danthegoodman1/gojsonutils"
)

const maxJSONLineBytes = 16 * 1024 * 1024

var (
	ErrNotObject  = errors.New("line is not a JSON object")
	ErrNotFlatMap = errors.New("not a flat map")
)

// readJSONLines reads newline-delimited JSON objects. Columns follow key order within each line.
func readJSONLines(name string, r io.Reader) (*table.Table, error) {
	t := table.New()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLineBytes)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		keys, vals, err := decodeOrderedObject(line)
		if err != nil {
			return nil, malformed(name, "line %d: %s", lineNum, err)
		}

		row := make(table.Row, len(keys))
		for _, key := range keys {
			nested, isObj := vals[key].(map[string]any)
			if !isObj {
				t.AddColumn(key)
				row[key] = scalarCell(vals[key])
				continue
			}

			flatKeys, flatVals, err := flattenObject(key, nested)
			if err != nil {
				return nil, malformed(name, "line %d: %s", lineNum, err)
			}
			for _, fk := range flatKeys {
				t.AddColumn(fk)
				row[fk] = scalarCell(flatVals[fk])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, malformed(name, "error scanning lines: %s", err)
	}

	return t, nil
}

// decodeOrderedObject decodes one JSON object, returning its keys in document order.
// A repeated key keeps its first position and its last value.
func decodeOrderedObject(line []byte) ([]string, map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, isDelim := tok.(json.Delim); !isDelim || d != '{' {
		return nil, nil, ErrNotObject
	}

	var keys []string
	vals := make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, isStr := tok.(string)
		if !isStr {
			return nil, nil, fmt.Errorf("expected object key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, seen := vals[key]; !seen {
			keys = append(keys, key)
		}
		vals[key] = v
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, nil, errors.New("trailing data after JSON object")
	}

	return keys, vals, nil
}

// flattenObject flattens a nested object under key, returning the flat keys sorted.
func flattenObject(key string, obj map[string]any) ([]string, map[string]any, error) {
	flat, err := gojsonutils.Flatten(map[string]any{key: obj}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("error flattening JSON map: %w", err)
	}
	flatMap, ok := flat.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %+v", ErrNotFlatMap, flat)
	}

	keys := make([]string, 0, len(flatMap))
	for k := range flatMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, flatMap, nil
}

// scalarCell narrows a decoded JSON value to a table cell. Non-scalar values become their JSON text.
func scalarCell(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
