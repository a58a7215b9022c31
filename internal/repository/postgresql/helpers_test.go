package postgresql_test

import "github.com/jackc/pgconn"

func pgconnTag(s string) pgconn.CommandTag {
	return pgconn.CommandTag(s)
}
