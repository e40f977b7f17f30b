package dataservice

// Table is one typed result set. Rows are ordered; each row is a slice of
// values positionally matching Columns. Index maps an element key to its
// position within every row.
type Table struct {
	TableID string
	Columns []string
	Index   map[string]int
	Rows    [][]any

	// Effective query window, when the producing query had one.
	Limit  *int64
	Offset *int64

	// CanCreateRow reflects the caller's effective create permission on
	// the table.
	CanCreateRow bool
}

// NewTable builds an empty table over the given column order.
func NewTable(tableID string, columns []string) *Table {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return &Table{
		TableID: tableID,
		Columns: columns,
		Index:   idx,
	}
}

// Append adds one row. The row length must match Columns.
func (t *Table) Append(row []any) {
	t.Rows = append(t.Rows, row)
}

// Width is the number of value cells per row.
func (t *Table) Width() int { return len(t.Columns) }

// Value returns the cell for elementKey in row i, and whether the column
// exists.
func (t *Table) Value(i int, elementKey string) (any, bool) {
	j, ok := t.Index[elementKey]
	if !ok || i < 0 || i >= len(t.Rows) {
		return nil, false
	}
	return t.Rows[i][j], true
}
