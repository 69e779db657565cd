package storage

import (
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type SqliteDriver struct {
	filename string
	logger   *slog.Logger
	db       *gorm.DB
}

func NewSqliteDriver(filename string, logger *slog.Logger) *SqliteDriver {
	return &SqliteDriver{filename: filename, logger: logger}
}

func (d *SqliteDriver) Init() error {
	if dir := filepath.Dir(d.filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create database folder")
		}
	}
	db, err := gorm.Open(sqlite.Open(d.filename), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return errors.Wrap(err, "open")
	}

	for _, table := range []any{
		&sensorTypeRow{},
		&observedValueRow{},
	} {
		err = db.AutoMigrate(table)
		if err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	d.db = db
	d.logger.Info("sqlite store opened", "file", d.filename)
	return nil
}

func (d *SqliteDriver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	return sqlDB.Close()
}

func (d *SqliteDriver) SaveSensorType(sensorType models.SensorType) error {
	var count int64
	tx := d.db.Model(&sensorTypeRow{}).
		Where("id = ? or name = ?", sensorType.Id, string(sensorType.Name)).
		Count(&count)
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "count")
	}
	if count > 0 {
		return errors.Wrapf(models.ErrDuplicateSensorType, "sensor type %d (%s)", sensorType.Id, sensorType.Name)
	}
	row := toSensorTypeRow(sensorType)
	if tx := d.db.Create(&row); tx.Error != nil {
		return errors.Wrap(tx.Error, "create")
	}
	return nil
}

func (d *SqliteDriver) GetSensorTypes() ([]models.SensorType, error) {
	var rows []sensorTypeRow
	tx := d.db.Order("id asc").Find(&rows)
	if tx.Error != nil {
		return nil, errors.Wrap(tx.Error, "find")
	}
	result := make([]models.SensorType, len(rows))
	for idx, row := range rows {
		result[idx] = row.model()
	}
	return result, nil
}

func (d *SqliteDriver) SaveObservedValues(values []models.ObservedValue) error {
	if len(values) == 0 {
		return nil
	}
	err := d.db.Transaction(func(tx *gorm.DB) error {
		for _, v := range values {
			row := toObservedValueRow(v)
			res := tx.Create(&row)
			if res.Error != nil {
				return errors.Wrap(res.Error, "create")
			}
		}
		return nil
	})
	return err
}

func (d *SqliteDriver) GetObservedValues(sensorTypeId int64, from, to time.Time) ([]models.ObservedValue, error) {
	q := d.db.Where("sensor_type_id = ?", sensorTypeId)
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from.UnixNano())
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to.UnixNano())
	}

	var rows []observedValueRow
	tx := q.Order("created_at asc").Order("id asc").Find(&rows)
	if tx.Error != nil {
		return nil, errors.Wrap(tx.Error, "find")
	}
	result := make([]models.ObservedValue, len(rows))
	for idx, row := range rows {
		result[idx] = row.model()
	}
	return result, nil
}

func (d *SqliteDriver) DeleteObservedValuesBefore(cutoff time.Time) (int, error) {
	tx := d.db.Where("created_at < ?", cutoff.UnixNano()).Delete(&observedValueRow{})
	if tx.Error != nil {
		return 0, errors.Wrap(tx.Error, "delete")
	}
	return int(tx.RowsAffected), nil
}

func (d *SqliteDriver) LastObservedValueId() (int64, error) {
	var last int64
	tx := d.db.Model(&observedValueRow{}).Select("coalesce(max(id), 0)").Scan(&last)
	if tx.Error != nil {
		return 0, errors.Wrap(tx.Error, "max id")
	}
	return last, nil
}
