package dataq

import (
	"encoding/json"
	"strconv"

	"github.com/wbrunette/dataq/dataservice"
)

// valueConverters is the per-result-set cache of column-index -> value
// converter, so type dispatch happens once per column instead of once
// per cell.
type valueConverters struct {
	fns []func(any) any
}

func newValueConverters(cols *dataservice.ColumnSet, tbl *dataservice.Table) *valueConverters {
	fns := make([]func(any) any, tbl.Width())
	for i, key := range tbl.Columns {
		var elemType string
		if cols != nil {
			if def := cols.Find(key); def != nil {
				elemType = def.ElementType
			}
		}
		fns[i] = converterFor(elemType)
	}
	return &valueConverters{fns: fns}
}

func (vc *valueConverters) convertRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if i < len(vc.fns) {
			out[i] = vc.fns[i](v)
		} else {
			out[i] = v
		}
	}
	return out
}

// tableData renders a typed table into the ordered list-of-lists shape
// of a success envelope.
func tableData(cols *dataservice.ColumnSet, tbl *dataservice.Table) [][]any {
	vc := newValueConverters(cols, tbl)
	data := make([][]any, 0, len(tbl.Rows))
	for _, row := range tbl.Rows {
		data = append(data, vc.convertRow(row))
	}
	return data
}

func converterFor(elemType string) func(any) any {
	switch elemType {
	case dataservice.TypeInteger:
		return convertInteger
	case dataservice.TypeNumber:
		return convertNumber
	case dataservice.TypeBool:
		return convertBool
	case dataservice.TypeArray, dataservice.TypeObject:
		return convertComposite
	default:
		// string, rowpath, configpath, admin and unknown columns pass
		// through as stored.
		return convertString
	}
}

func convertString(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func convertInteger(v any) any {
	switch n := v.(type) {
	case nil:
		return nil
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		return parseInt(string(n))
	case string:
		return parseInt(n)
	default:
		return v
	}
}

func convertNumber(v any) any {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case []byte:
		return parseFloat(string(n))
	case string:
		return parseFloat(n)
	default:
		return v
	}
}

func convertBool(v any) any {
	switch b := v.(type) {
	case nil:
		return nil
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	case float64:
		return b != 0
	case []byte:
		return parseBool(string(b))
	case string:
		return parseBool(b)
	default:
		return v
	}
}

// Composite cells are stored as JSON text; hand them back structured.
func convertComposite(v any) any {
	var raw string
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		raw = s
	case []byte:
		raw = string(s)
	default:
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return raw
	}
	return out
}

func parseInt(s string) any {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return s
	}
	return n
}

func parseFloat(s string) any {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return f
}

func parseBool(s string) any {
	b, err := strconv.ParseBool(s)
	if err != nil {
		if n, nerr := strconv.ParseInt(s, 10, 64); nerr == nil {
			return n != 0
		}
		return s
	}
	return b
}
