package storage

import (
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/pkg/errors"
	"log/slog"
	"time"
)

type Kind string

const (
	Filesystem Kind = "filesystem"
	Sqlite     Kind = "sqlite"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Driver persists sensor types and observed values.
// GetObservedValues returns values with from <= createdAt < to ordered by createdAt,
// a zero to leaves the window open ended.
type Driver interface {
	Init() error
	Close() error
	SaveSensorType(sensorType models.SensorType) error
	GetSensorTypes() ([]models.SensorType, error)
	SaveObservedValues(values []models.ObservedValue) error
	GetObservedValues(sensorTypeId int64, from, to time.Time) ([]models.ObservedValue, error)
	DeleteObservedValuesBefore(cutoff time.Time) (int, error)
	LastObservedValueId() (int64, error)
}

func InitStorage(kind Kind, path string, logger *slog.Logger) (Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var driver Driver
	switch kind {
	case Filesystem:
		driver = NewFilesystemDriver(path, logger)
	case Sqlite:
		driver = NewSqliteDriver(path, logger)
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "kind %q", kind)
	}
	if err := driver.Init(); err != nil {
		return nil, errors.Wrapf(err, "init %s storage", kind)
	}
	return driver, nil
}

func inWindow(ts, from, to time.Time) bool {
	if ts.Before(from) {
		return false
	}
	return to.IsZero() || ts.Before(to)
}
