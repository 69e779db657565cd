package models

import (
	"github.com/pkg/errors"
	"strconv"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidSensorName   = errors.New("invalid sensor name")
	ErrUnknownSensorType   = errors.New("unknown sensor type")
	ErrDuplicateSensorType = errors.New("duplicate sensor type")
	ErrNotFound            = errors.New("not found")
)

type SensorNameError struct {
	Name string
}

func (e *SensorNameError) Error() string {
	return "sensor name '" + e.Name + "' must be one of: voltage, frequency"
}

func (e *SensorNameError) Unwrap() error {
	return ErrInvalidSensorName
}

type UnknownSensorTypeError struct {
	Id int64
}

func (e *UnknownSensorTypeError) Error() string {
	return "sensor type " + strconv.FormatInt(e.Id, 10) + ": unknown"
}

func (e *UnknownSensorTypeError) Unwrap() error {
	return ErrUnknownSensorType
}
