package sqlstore

import (
	"strconv"
	"strings"

	"github.com/wbrunette/dataq/dataservice"
)

// Dialect absorbs the placeholder, quoting and column-type differences
// between the supported SQL engines.
type Dialect interface {
	Name() string
	// Placeholder renders the i-th bind parameter, 1-based.
	Placeholder(i int) string
	QuoteIdent(ident string) string
	// SQLType maps an element type to the engine's column type.
	SQLType(elementType string) string
}

// SQLite is the dialect of modernc.org/sqlite.
var SQLite Dialect = sqliteDialect{}

// Postgres is the dialect of jackc/pgx through database/sql.
var Postgres Dialect = postgresDialect{}

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) SQLType(elementType string) string {
	switch elementType {
	case dataservice.TypeInteger, dataservice.TypeBool:
		return "INTEGER"
	case dataservice.TypeNumber:
		return "REAL"
	default:
		return "TEXT"
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(i int) string { return "$" + strconv.Itoa(i) }

func (postgresDialect) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (postgresDialect) SQLType(elementType string) string {
	switch elementType {
	case dataservice.TypeInteger, dataservice.TypeBool:
		return "BIGINT"
	case dataservice.TypeNumber:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}
