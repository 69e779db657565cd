package models

import (
	"math"
	"time"
)

type SensorName string

const (
	Voltage   SensorName = "voltage"
	Frequency SensorName = "frequency"
)

var SensorNames = []SensorName{Voltage, Frequency}

func (n SensorName) Valid() bool {
	switch n {
	case Voltage, Frequency:
		return true
	}
	return false
}

func ParseSensorName(s string) (SensorName, error) {
	name := SensorName(s)
	if !name.Valid() {
		return "", &SensorNameError{Name: s}
	}
	return name, nil
}

// DefaultUnit returns the unit a sensor type is seeded with.
func DefaultUnit(n SensorName) string {
	switch n {
	case Voltage:
		return "V"
	case Frequency:
		return "Hz"
	}
	return ""
}

type SensorType struct {
	Id        int64      `json:"id" validate:"min=1"`
	CreatedAt time.Time  `json:"createdAt" validate:"required"`
	Name      SensorName `json:"name" validate:"sensorname"`
	Unit      string     `json:"unit" validate:"required,max=16"`
}

type ObservedValue struct {
	Id           int64     `json:"id" validate:"min=1"`
	CreatedAt    time.Time `json:"createdAt" validate:"required"`
	SensorTypeId int64     `json:"sensorTypeId" validate:"min=1"`
	Value        float64   `json:"value"`
}

func (v ObservedValue) finite() bool {
	return !math.IsNaN(v.Value) && !math.IsInf(v.Value, 0)
}

// Reading is an observation that has not been assigned an id yet.
type Reading struct {
	SensorTypeId int64     `json:"sensorTypeId" validate:"min=1"`
	Value        *float64  `json:"value" validate:"required"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

type Stats struct {
	SensorTypeId int64   `json:"sensorTypeId"`
	Count        int     `json:"count"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Avg          float64 `json:"avg"`
}
