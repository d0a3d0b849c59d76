package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	c := Config{User: "topup", Host: "db", Port: "5432", Password: "secret", Database: "credits"}
	assert.Equal(t, "host=db user=topup password=secret dbname=credits port=5432 sslmode=disable", dsn(c))

	c.SSLMode = "require"
	assert.Contains(t, dsn(c), "sslmode=require")
}
