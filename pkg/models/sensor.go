package models

import "time"

const (
	SensorKindMeasurement    = "measurement"
	SensorKindDerived        = "derived"
	SensorKindForecast       = "forecast"
	SensorKindAnalysisOutput = "analysis_output"
)

// Sensor is a catalog entry for one time series reported by a node.
type Sensor struct {
	ID               string     `db:"id"                json:"id"`
	NodeID           string     `db:"node_id"           json:"node_id"`
	Name             string     `db:"name"              json:"name"`
	Unit             string     `db:"unit"              json:"unit"`
	Kind             string     `db:"kind"              json:"kind"`
	IntervalSeconds  int        `db:"interval_seconds"  json:"interval_seconds"`
	AnalysisEligible bool       `db:"analysis_eligible" json:"analysis_eligible"`
	DeletedAt        *time.Time `db:"deleted_at"        json:"-"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"        json:"updated_at"`
}

// IsDerivedOrForecast reports whether the sensor is computed from other series.
func (s *Sensor) IsDerivedOrForecast() bool {
	return s.Kind == SensorKindDerived || s.Kind == SensorKindForecast
}
