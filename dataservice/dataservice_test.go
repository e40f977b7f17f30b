package dataservice

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBindArgs(t *testing.T) {
	args, err := ParseBindArgs(`["a", 2, true, null]`)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", float64(2), true, nil}, args)

	args, err = ParseBindArgs("")
	require.NoError(t, err)
	assert.Nil(t, args)

	_, err = ParseBindArgs(`{"not":"an array"}`)
	require.Error(t, err)
}

func TestColumnSetHelpers(t *testing.T) {
	cs := &ColumnSet{
		TableID: "gear",
		Defs: []ColumnDef{
			{ElementKey: "label", ElementName: "label", ElementType: TypeString, Retained: true},
			{ElementKey: "location", ElementName: "location", ElementType: TypeObject, Retained: false},
			{ElementKey: "location_lat", ElementName: "lat", ElementType: TypeNumber, Retained: true},
		},
	}

	require.NotNil(t, cs.Find("location"))
	assert.Nil(t, cs.Find("nope"))
	assert.Equal(t, []string{"label", "location_lat"}, cs.RetainedKeys())

	want := map[string]any{
		"label":        map[string]any{"type": TypeString, "elementName": "label", "retained": true},
		"location":     map[string]any{"type": TypeObject, "elementName": "location", "retained": false},
		"location_lat": map[string]any{"type": TypeNumber, "elementName": "lat", "retained": true},
	}
	if diff := cmp.Diff(want, cs.DataModel()); diff != "" {
		t.Errorf("data model mismatch (-want +got):\n%s", diff)
	}
}

func TestIsAdminColumn(t *testing.T) {
	assert.True(t, IsAdminColumn(ColID))
	assert.True(t, IsAdminColumn(ColGroupPrivileged))
	assert.False(t, IsAdminColumn("label"))
	assert.Len(t, AdminColumns(), 12)
}

func TestTableValueLookup(t *testing.T) {
	tbl := NewTable("gear", []string{"_id", "label"})
	tbl.Append([]any{"r1", "tent"})
	tbl.Append([]any{"r2", "stove"})

	v, ok := tbl.Value(1, "label")
	require.True(t, ok)
	assert.Equal(t, "stove", v)

	_, ok = tbl.Value(0, "nope")
	assert.False(t, ok)
	assert.Equal(t, 2, tbl.Width())
}

func TestViewQueryShapes(t *testing.T) {
	var q ViewQuery = ArbitraryViewQuery{TableID: "gear", SQL: "SELECT 1"}
	assert.Equal(t, "gear", q.QueryTableID())
	q = SimpleViewQuery{TableID: "gear"}
	assert.Equal(t, "gear", q.QueryTableID())
	q = SingleRowViewQuery{TableID: "gear", RowID: "r1"}
	assert.Equal(t, "gear", q.QueryTableID())
}
