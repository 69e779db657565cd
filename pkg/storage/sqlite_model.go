package storage

import (
	"github.com/andreikom/ac-observator/pkg/models"
	"time"
)

type sensorTypeRow struct {
	Id        int64  `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt int64  `gorm:"not null"`
	Name      string `gorm:"uniqueIndex;not null"`
	Unit      string `gorm:"not null"`
}

func (sensorTypeRow) TableName() string {
	return "sensor_types"
}

type observedValueRow struct {
	Id           int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt    int64 `gorm:"index;not null"`
	SensorTypeId int64 `gorm:"index;not null"`
	Value        float64
}

func (observedValueRow) TableName() string {
	return "observed_values"
}

func toSensorTypeRow(t models.SensorType) sensorTypeRow {
	return sensorTypeRow{
		Id:        t.Id,
		CreatedAt: t.CreatedAt.UnixNano(),
		Name:      string(t.Name),
		Unit:      t.Unit,
	}
}

func (r sensorTypeRow) model() models.SensorType {
	return models.SensorType{
		Id:        r.Id,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		Name:      models.SensorName(r.Name),
		Unit:      r.Unit,
	}
}

func toObservedValueRow(v models.ObservedValue) observedValueRow {
	return observedValueRow{
		Id:           v.Id,
		CreatedAt:    v.CreatedAt.UnixNano(),
		SensorTypeId: v.SensorTypeId,
		Value:        v.Value,
	}
}

func (r observedValueRow) model() models.ObservedValue {
	return models.ObservedValue{
		Id:           r.Id,
		CreatedAt:    time.Unix(0, r.CreatedAt).UTC(),
		SensorTypeId: r.SensorTypeId,
		Value:        r.Value,
	}
}
