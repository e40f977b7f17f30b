package dataq

import (
	"encoding/json"

	"github.com/pkg/errors"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
	"github.com/wbrunette/dataq/dataservice"
)

// Admin columns a caller may set directly through a row mutation. The
// remaining admin columns are owned by the store.
var updatableAdminColumns = map[string]bool{
	dataservice.ColFormID:           true,
	dataservice.ColLocale:           true,
	dataservice.ColSavepointCreator: true,
	dataservice.ColDefaultAccess:    true,
	dataservice.ColRowOwner:         true,
	dataservice.ColGroupReadOnly:    true,
	dataservice.ColGroupModify:      true,
	dataservice.ColGroupPrivileged:  true,
}

// convertValues decodes a caller's value map and checks every key
// against the table schema. Keys must name either a retained column or
// an updatable admin column; values must be JSON scalars or null.
// Composite columns arrive pre-serialized as JSON strings.
func convertValues(cols *dataservice.ColumnSet, valuesJSON string) (map[string]any, error) {
	if valuesJSON == "" {
		return map[string]any{}, nil
	}
	raw, err := decodeValueMap(valuesJSON)
	if err != nil {
		return nil, err
	}
	for k, v := range raw {
		if !updatableAdminColumns[k] {
			if dataservice.IsAdminColumn(k) {
				return nil, errors.Wrapf(dqerr.ErrInvalidState, "column cannot be modified: %s", k)
			}
			def := cols.Find(k)
			if def == nil || !def.Retained {
				return nil, errors.Wrapf(dqerr.ErrInvalidState, "key is not a database column name: %s", k)
			}
		}
		if !scalarValue(v) {
			return nil, errors.Wrapf(dqerr.ErrInvalidState, "unsupported value type for key: %s", k)
		}
	}
	return raw, nil
}

// convertLocalValues decodes a value map for a local-only table. Local
// tables have no admin columns and no schema restrictions beyond scalar
// values.
func convertLocalValues(valuesJSON string) (map[string]any, error) {
	if valuesJSON == "" {
		return map[string]any{}, nil
	}
	raw, err := decodeValueMap(valuesJSON)
	if err != nil {
		return nil, err
	}
	for k, v := range raw {
		if !scalarValue(v) {
			return nil, errors.Wrapf(dqerr.ErrInvalidState, "unsupported value type for key: %s", k)
		}
	}
	return raw, nil
}

func decodeValueMap(valuesJSON string) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(valuesJSON), &raw); err != nil {
		return nil, errors.Wrap(dqerr.ErrInvalidState, "bad value map: "+err.Error())
	}
	return raw, nil
}

func scalarValue(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, json.Number:
		return true
	default:
		return false
	}
}
