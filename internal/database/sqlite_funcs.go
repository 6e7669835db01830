package database

import (
	"database/sql/driver"
	"strings"

	"modernc.org/sqlite"
)

// unicodeLowerFunc folds case for the full Unicode range. SQLite's built-in
// LOWER() only folds ASCII.
const unicodeLowerFunc = "unicode_lower"

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(unicodeLowerFunc, 1, unicodeLower); err != nil {
		panic("register " + unicodeLowerFunc + ": " + err.Error())
	}
}

func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// LowerFunc is the SQL function that lower-cases text the way strings.ToLower does
func (db *DB) LowerFunc() string {
	if db.IsMySQL() {
		return "LOWER"
	}
	return unicodeLowerFunc
}
