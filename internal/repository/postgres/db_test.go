package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andresuchdata/autopo-forecast/internal/config"
)

func TestDriverAndDSN(t *testing.T) {
	driver, dsn := DriverAndDSN(config.DatabaseConfig{URL: "postgres://u:p@db:5432/forecast"})
	assert.Equal(t, "pgx", driver)
	assert.Equal(t, "postgres://u:p@db:5432/forecast", dsn)

	driver, dsn = DriverAndDSN(config.DatabaseConfig{
		Host: "localhost", Port: "5432", User: "postgres", Password: "secret", DBName: "autopo", SSLMode: "disable",
	})
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=secret dbname=autopo sslmode=disable", dsn)
}
