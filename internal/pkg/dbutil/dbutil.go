package dbutil

import (
	"github.com/jmoiron/sqlx"
)

// Finalize rebinds a gendry-built query, or any query written with ?
// placeholders, into postgres $N form.
func Finalize(query string, args []interface{}) (string, []interface{}) {
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}
