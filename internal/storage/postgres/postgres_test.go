package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avaviz/flowrender/internal/config"
	"github.com/avaviz/flowrender/internal/storage"
)

var _ storage.Backend = (*Backend)(nil)

func TestNew_Unreachable(t *testing.T) {
	_, err := New(config.PostgresConfig{
		Host:     "127.0.0.1",
		Port:     "1",
		Username: "postgres",
		Password: "postgres",
		Database: "flowrender",
		SSLMode:  "disable",
	}, nil)
	assert.Error(t, err)
}
