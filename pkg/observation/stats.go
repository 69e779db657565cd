package observation

import (
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/pkg/errors"
	"time"
)

const DateLayout = "2006-01-02"

func calculateStats(sensorTypeId int64, values []models.ObservedValue) (models.Stats, error) {
	if len(values) == 0 {
		return models.Stats{}, errors.Wrapf(models.ErrNotFound, "no values for sensor type %d", sensorTypeId)
	}
	stats := models.Stats{
		SensorTypeId: sensorTypeId,
		Count:        len(values),
		Min:          values[0].Value,
		Max:          values[0].Value,
	}
	sum := 0.0
	for _, v := range values {
		if v.Value < stats.Min {
			stats.Min = v.Value
		}
		if v.Value > stats.Max {
			stats.Max = v.Value
		}
		sum += v.Value
	}
	stats.Avg = sum / float64(len(values))
	return stats, nil
}

// parseDay returns the UTC bounds of a 2006-01-02 date.
func parseDay(date string) (time.Time, time.Time, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrapf(models.ErrValidation, "date %q must look like %s", date, DateLayout)
	}
	return day, day.AddDate(0, 0, 1), nil
}
