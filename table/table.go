package table

type (
	// Row maps column name to a scalar cell value: nil, float64, string, or bool.
	// A missing key reads as null.
	Row map[string]any

	Table struct {
		// Columns in first-seen order
		Columns []string
		Rows    []Row

		colIndex map[string]int
	}

	Kind string
)

const (
	KindNumber Kind = "number"
	KindText   Kind = "text"
	KindBool   Kind = "bool"
)

func New() *Table {
	return &Table{
		colIndex: make(map[string]int),
	}
}

// AddColumn registers a column if it has not been seen, returning whether it was added.
func (t *Table) AddColumn(name string) bool {
	t.ensureIndex()
	if _, exists := t.colIndex[name]; exists {
		return false
	}
	t.colIndex[name] = len(t.Columns)
	t.Columns = append(t.Columns, name)
	return true
}

func (t *Table) HasColumn(name string) bool {
	t.ensureIndex()
	_, exists := t.colIndex[name]
	return exists
}

// AppendRow adds a row, registering any unseen keys as columns. Callers that care about column
// order should AddColumn first; unseen keys of a single row are registered in map order.
func (t *Table) AppendRow(row Row) {
	for key := range row {
		t.AddColumn(key)
	}
	t.Rows = append(t.Rows, row)
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// Value returns the cell at row i, nil when the row lacks the column.
func (t *Table) Value(i int, col string) any {
	return t.Rows[i][col]
}

// Kind infers the column kind. A column with only null values is a number column.
func (t *Table) Kind(col string) Kind {
	kind := KindNumber
	seen := false
	for _, row := range t.Rows {
		switch row[col].(type) {
		case nil:
			continue
		case float64:
			if seen && kind != KindNumber {
				return KindText
			}
			kind = KindNumber
		case bool:
			if seen && kind != KindBool {
				return KindText
			}
			kind = KindBool
		default:
			return KindText
		}
		seen = true
	}
	return kind
}

func (t *Table) ensureIndex() {
	if t.colIndex != nil && len(t.colIndex) == len(t.Columns) {
		return
	}
	t.colIndex = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.colIndex[c] = i
	}
}

// Concat unions the columns of all tables in first-seen order and appends their rows in order.
// Every output row carries every column, with nil for columns its source table lacked.
func Concat(tables ...*Table) *Table {
	out := New()
	for _, t := range tables {
		for _, col := range t.Columns {
			out.AddColumn(col)
		}
	}

	for _, t := range tables {
		for _, row := range t.Rows {
			filled := make(Row, len(out.Columns))
			for _, col := range out.Columns {
				filled[col] = row[col]
			}
			out.Rows = append(out.Rows, filled)
		}
	}
	return out
}
