package models

// Reading is one sensor measurement as returned by the sensor data provider.
// JSON tags follow the provider's wire names.
type Reading struct {
	ID          string  `json:"_id,omitempty"`
	SensorID    string  `json:"sensorId,omitempty"`
	Temperature float64 `json:"temperatura"`
	Humidity    float64 `json:"humedad"`
	Status      string  `json:"estado"`
	Location    string  `json:"ubicacion,omitempty"`
	Actuator    string  `json:"actuador"`
	Timestamp   string  `json:"fecha"` // ISO-8601
}
