package dataservice

// Element data types a column can declare. Arrays and objects travel as
// JSON strings in the store and are rehydrated on the way out.
const (
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBool    = "bool"
	TypeString  = "string"
	TypeArray   = "array"
	TypeObject  = "object"
	TypeRowPath = "rowpath"
)

// Admin columns carried by every user table row.
const (
	ColID                 = "_id"
	ColSyncState          = "_sync_state"
	ColSavepointType      = "_savepoint_type"
	ColSavepointTimestamp = "_savepoint_timestamp"
	ColSavepointCreator   = "_savepoint_creator"
	ColFormID             = "_form_id"
	ColLocale             = "_locale"
	ColDefaultAccess      = "_default_access"
	ColRowOwner           = "_row_owner"
	ColGroupReadOnly      = "_group_read_only"
	ColGroupModify        = "_group_modify"
	ColGroupPrivileged    = "_group_privileged"
)

// Savepoint types. A NULL savepoint type marks a checkpoint row.
const (
	SavepointIncomplete = "INCOMPLETE"
	SavepointComplete   = "COMPLETE"
)

// AdminColumns returns the admin column names in storage order.
func AdminColumns() []string {
	return []string{
		ColID, ColSyncState,
		ColSavepointType, ColSavepointTimestamp, ColSavepointCreator,
		ColFormID, ColLocale,
		ColDefaultAccess, ColRowOwner,
		ColGroupReadOnly, ColGroupModify, ColGroupPrivileged,
	}
}

// IsAdminColumn reports whether key names an admin column.
func IsAdminColumn(key string) bool {
	for _, c := range AdminColumns() {
		if c == key {
			return true
		}
	}
	return false
}

// ColumnDef describes one user-defined column.
type ColumnDef struct {
	ElementKey  string `json:"elementKey"`
	ElementName string `json:"elementName"`
	ElementType string `json:"elementType"`
	// Retained is false for grouping elements that have no storage cell of
	// their own (their children are stored instead).
	Retained bool `json:"retained"`
}

// ColumnSet is the ordered column schema of one table, fetched once per
// table per context lifetime and cached.
type ColumnSet struct {
	TableID string      `json:"tableId"`
	Defs    []ColumnDef `json:"orderedColumns"`
}

// Find returns the definition for key, or nil.
func (cs *ColumnSet) Find(key string) *ColumnDef {
	for i := range cs.Defs {
		if cs.Defs[i].ElementKey == key {
			return &cs.Defs[i]
		}
	}
	return nil
}

// RetainedKeys lists element keys that own a storage cell, in order.
func (cs *ColumnSet) RetainedKeys() []string {
	keys := make([]string, 0, len(cs.Defs))
	for _, d := range cs.Defs {
		if d.Retained {
			keys = append(keys, d.ElementKey)
		}
	}
	return keys
}

// DataModel renders the schema as the nested map shipped in the full
// metadata block (elementKey -> {type, elementName}).
func (cs *ColumnSet) DataModel() map[string]any {
	model := make(map[string]any, len(cs.Defs))
	for _, d := range cs.Defs {
		model[d.ElementKey] = map[string]any{
			"type":        d.ElementType,
			"elementName": d.ElementName,
			"retained":    d.Retained,
		}
	}
	return model
}
