package models

import (
	"encoding/json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"math"
	"testing"
	"time"
)

func TestParseSensorName(t *testing.T) {
	for _, s := range []string{"voltage", "frequency"} {
		name, err := ParseSensorName(s)
		require.NoError(t, err)
		require.Equal(t, SensorName(s), name)
	}

	for _, s := range []string{"", "Voltage", "current", "frequency "} {
		_, err := ParseSensorName(s)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrInvalidSensorName), s)
	}
}

func TestSensorTypeValidate(t *testing.T) {
	now := time.Now()
	valid := SensorType{Id: 1, CreatedAt: now, Name: Voltage, Unit: "V"}
	require.NoError(t, valid.Validate())

	cases := map[string]SensorType{
		"bad name":     {Id: 1, CreatedAt: now, Name: "temperature", Unit: "C"},
		"no unit":      {Id: 1, CreatedAt: now, Name: Frequency},
		"no id":        {CreatedAt: now, Name: Frequency, Unit: "Hz"},
		"no timestamp": {Id: 2, Name: Frequency, Unit: "Hz"},
		"long unit":    {Id: 2, CreatedAt: now, Name: Frequency, Unit: "hertz-per-something"},
	}
	for name, st := range cases {
		err := st.Validate()
		require.Error(t, err, name)
		require.True(t, errors.Is(err, ErrValidation), name)
	}
}

func TestObservedValueValidate(t *testing.T) {
	now := time.Now()
	require.NoError(t, ObservedValue{Id: 1, CreatedAt: now, SensorTypeId: 1, Value: 230.1}.Validate())
	require.NoError(t, ObservedValue{Id: 1, CreatedAt: now, SensorTypeId: 1, Value: 0}.Validate())

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := ObservedValue{Id: 1, CreatedAt: now, SensorTypeId: 1, Value: v}.Validate()
		require.True(t, errors.Is(err, ErrValidation))
	}

	err := ObservedValue{Id: 1, CreatedAt: now, Value: 1}.Validate()
	require.True(t, errors.Is(err, ErrValidation))
}

func TestReadingValidate(t *testing.T) {
	v := 49.98
	require.NoError(t, Reading{SensorTypeId: 2, Value: &v}.Validate())

	err := Reading{SensorTypeId: 2}.Validate()
	require.True(t, errors.Is(err, ErrValidation))

	nan := math.NaN()
	err = Reading{SensorTypeId: 2, Value: &nan}.Validate()
	require.True(t, errors.Is(err, ErrValidation))
}

func TestValidateReference(t *testing.T) {
	types := map[int64]SensorType{
		1: {Id: 1, Name: Voltage, Unit: "V"},
		2: {Id: 2, Name: Frequency, Unit: "Hz"},
	}
	require.NoError(t, ValidateReference(ObservedValue{SensorTypeId: 2}, types))

	err := ValidateReference(ObservedValue{SensorTypeId: 3}, types)
	require.True(t, errors.Is(err, ErrUnknownSensorType))
	require.Equal(t, "sensor type 3: unknown", err.Error())
}

func TestDefaultUnit(t *testing.T) {
	require.Equal(t, "V", DefaultUnit(Voltage))
	require.Equal(t, "Hz", DefaultUnit(Frequency))
	require.Equal(t, "", DefaultUnit("other"))
}

func TestObservedValueJSONShape(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(ObservedValue{Id: 7, CreatedAt: ts, SensorTypeId: 1, Value: 229.5})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":7,"createdAt":"2024-03-01T12:00:00Z","sensorTypeId":1,"value":229.5}`, string(data))

	data, err = json.Marshal(SensorType{Id: 2, CreatedAt: ts, Name: Frequency, Unit: "Hz"})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":2,"createdAt":"2024-03-01T12:00:00Z","name":"frequency","unit":"Hz"}`, string(data))
}
