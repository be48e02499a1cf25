package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})

	assert.True(t, IsUniqueViolation(wrapped))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "42704"}))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestConnectionParamsConnString(t *testing.T) {
	p := ConnectionParams{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "chat", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=chat sslmode=disable", p.ConnString())
}
