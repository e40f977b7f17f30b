package dataq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrunette/dataq/dataservice"
)

func gearColumns() *dataservice.ColumnSet {
	return &dataservice.ColumnSet{
		TableID: "gear",
		Defs: []dataservice.ColumnDef{
			{ElementKey: "label", ElementType: dataservice.TypeString, Retained: true},
			{ElementKey: "location", ElementType: dataservice.TypeObject, Retained: false},
			{ElementKey: "location_lat", ElementType: dataservice.TypeNumber, Retained: true},
		},
	}
}

func TestConvertValuesAcceptsColumnsAndAdminFields(t *testing.T) {
	values, err := convertValues(gearColumns(),
		`{"label":"tent","location_lat":47.6,"_locale":"en_US","_row_owner":"alice"}`)
	require.NoError(t, err)
	assert.Equal(t, "tent", values["label"])
	assert.Equal(t, 47.6, values["location_lat"])
	assert.Equal(t, "en_US", values["_locale"])
}

func TestConvertValuesRejectsUnknownKey(t *testing.T) {
	_, err := convertValues(gearColumns(), `{"no_such_column":1}`)
	require.Error(t, err)
	assert.Equal(t, FaultInvalidState, FaultTag(err))
}

func TestConvertValuesRejectsNonRetainedKey(t *testing.T) {
	// grouping elements have no storage cell; only their children do
	_, err := convertValues(gearColumns(), `{"location":"{}"}`)
	require.Error(t, err)
}

func TestConvertValuesRejectsProtectedAdminColumn(t *testing.T) {
	_, err := convertValues(gearColumns(), `{"_id":"forged"}`)
	require.Error(t, err)
	_, err = convertValues(gearColumns(), `{"_sync_state":"synced"}`)
	require.Error(t, err)
}

func TestConvertValuesRejectsCompositeValue(t *testing.T) {
	_, err := convertValues(gearColumns(), `{"label":{"nested":true}}`)
	require.Error(t, err)
	assert.Equal(t, FaultInvalidState, FaultTag(err))
}

func TestConvertValuesEmptyInput(t *testing.T) {
	values, err := convertValues(gearColumns(), "")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestConvertLocalValuesSkipsSchemaCheck(t *testing.T) {
	values, err := convertLocalValues(`{"anything":"goes","n":3}`)
	require.NoError(t, err)
	assert.Equal(t, "goes", values["anything"])

	_, err = convertLocalValues(`{"deep":{"no":"pe"}}`)
	require.Error(t, err)
}

func TestValidateRequestRequiredFields(t *testing.T) {
	assert.NoError(t, validateRequest(&Request{Type: RequestGetRoles}))
	assert.Error(t, validateRequest(&Request{Type: RequestUserTableQuery}))
	assert.Error(t, validateRequest(&Request{Type: RequestGetRows, TableID: "t"}))
	assert.Error(t, validateRequest(&Request{Type: RequestArbitraryQuery, TableID: "t"}))
	assert.Error(t, validateRequest(&Request{Type: RequestUpdateRow, TableID: "t", RowID: "r"}))
	assert.NoError(t, validateRequest(&Request{
		Type: RequestUpdateRow, TableID: "t", RowID: "r", ValuesJSON: "{}",
	}))
	// checkpoint saves may come without new values
	assert.NoError(t, validateRequest(&Request{
		Type: RequestSaveCheckpointAsComplete, TableID: "t", RowID: "r",
	}))
}
