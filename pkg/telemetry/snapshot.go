// Package telemetry defines the wire shapes pushed to telemetry viewers.
package telemetry

// GPS is a WGS84 position rounded to 6 decimals.
type GPS struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Orientation holds roll, pitch and yaw in degrees, each in [0,360).
type Orientation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// TemperatureReading is one labelled sensor value.
type TemperatureReading struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Snapshot is one immutable sample of the simulated vehicle.
type Snapshot struct {
	GPS                 GPS                  `json:"gps"`
	Heading             float64              `json:"heading"`
	Orientation         Orientation          `json:"orientation"`
	Throttle            float64              `json:"throttle"`
	Brake               float64              `json:"brake"`
	Temps               []TemperatureReading `json:"temps"`
	AccelerationHistory []float64            `json:"accelerationHistory"`
	BrakingHistory      []float64            `json:"brakingHistory"`
	Timestamp           int64                `json:"timestamp"` // epoch milliseconds
}

// Temperature labels reported on every snapshot.
const (
	LabelTemp1 = "Temp #1"
	LabelTemp3 = "Temp #3"
)
