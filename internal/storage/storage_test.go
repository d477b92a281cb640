package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avaviz/flowrender/internal/storage"
	"github.com/avaviz/flowrender/pkg/core"
)

func TestTotals(t *testing.T) {
	r := &core.LoadReport{Simulations: []core.SimulationReport{
		{SimulationID: "a", Requested: 5, Loaded: 4, Failed: 1},
		{SimulationID: "b", Requested: 3, Loaded: 0, Failed: 3},
	}}

	loaded, failed := storage.Totals(r)
	assert.Equal(t, 4, loaded)
	assert.Equal(t, 4, failed)

	loaded, failed = storage.Totals(&core.LoadReport{})
	assert.Zero(t, loaded)
	assert.Zero(t, failed)
}
