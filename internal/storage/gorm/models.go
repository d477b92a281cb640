package gormstorage

import (
	"time"

	"gorm.io/datatypes"
)

// Run is one load run.
type Run struct {
	ID          string    `gorm:"primaryKey;size:36"`
	StartedAt   time.Time `gorm:"index"`
	DurationMs  int64
	Simulations []SimulationLoad `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
}

func (Run) TableName() string { return "runs" }

// SimulationLoad is the outcome of loading one simulation in a run. Frame
// statistics are kept as a JSON document.
type SimulationLoad struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"size:36;index"`
	SimulationID string `gorm:"size:128;index"`
	Name         string
	CRS          string `gorm:"size:64"`
	MinX         float64
	MinY         float64
	MaxX         float64
	MaxY         float64
	Requested    int
	Loaded       int
	Failed       int
	Error        string
	Frames       datatypes.JSON
}

func (SimulationLoad) TableName() string { return "simulation_loads" }
