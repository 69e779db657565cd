package storage

import (
	"encoding/json"
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/pkg/errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	sensorTypesFile    = "sensor_types.json"
	observationsFolder = "observations"
)

// FilesystemDriver keeps one JSON document for the sensor types and one per
// sensor type for its observed values.
type FilesystemDriver struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

func NewFilesystemDriver(root string, logger *slog.Logger) *FilesystemDriver {
	return &FilesystemDriver{root: root, logger: logger}
}

func (d *FilesystemDriver) Init() error {
	observationsPath := filepath.Join(d.root, observationsFolder)
	if _, err := os.Stat(observationsPath); err == nil {
		d.logger.Info("observations store folder already exists", "path", observationsPath)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "stat store folder")
	}
	d.logger.Info("creating observations store folder", "path", observationsPath)
	if err := os.MkdirAll(observationsPath, 0755); err != nil {
		return errors.Wrap(err, "create store folder")
	}
	return nil
}

func (d *FilesystemDriver) Close() error {
	return nil
}

func (d *FilesystemDriver) SaveSensorType(sensorType models.SensorType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	types, err := d.readSensorTypes()
	if err != nil {
		return err
	}
	for _, existing := range types {
		if existing.Id == sensorType.Id || existing.Name == sensorType.Name {
			return errors.Wrapf(models.ErrDuplicateSensorType, "sensor type %d (%s)", sensorType.Id, sensorType.Name)
		}
	}
	types = append(types, sensorType)
	return d.writeJson(filepath.Join(d.root, sensorTypesFile), types)
}

func (d *FilesystemDriver) GetSensorTypes() ([]models.SensorType, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readSensorTypes()
}

func (d *FilesystemDriver) SaveObservedValues(values []models.ObservedValue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	bySensorType := make(map[int64][]models.ObservedValue)
	for _, v := range values {
		bySensorType[v.SensorTypeId] = append(bySensorType[v.SensorTypeId], v)
	}
	for sensorTypeId, batch := range bySensorType {
		stored, err := d.readObservedValues(sensorTypeId)
		if err != nil {
			return err
		}
		stored = append(stored, batch...)
		sort.SliceStable(stored, func(i, j int) bool {
			return stored[i].CreatedAt.Before(stored[j].CreatedAt)
		})
		if err := d.writeJson(d.observationsPath(sensorTypeId), stored); err != nil {
			return err
		}
	}
	return nil
}

func (d *FilesystemDriver) GetObservedValues(sensorTypeId int64, from, to time.Time) ([]models.ObservedValue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored, err := d.readObservedValues(sensorTypeId)
	if err != nil {
		return nil, err
	}
	result := make([]models.ObservedValue, 0)
	for _, v := range stored {
		if inWindow(v.CreatedAt, from, to) {
			result = append(result, v)
		}
	}
	return result, nil
}

func (d *FilesystemDriver) DeleteObservedValuesBefore(cutoff time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sensorTypeIds, err := d.storedSensorTypeIds()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, sensorTypeId := range sensorTypeIds {
		stored, err := d.readObservedValues(sensorTypeId)
		if err != nil {
			return deleted, err
		}
		kept := stored[:0]
		for _, v := range stored {
			if v.CreatedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == len(stored) {
			continue
		}
		if err := d.writeJson(d.observationsPath(sensorTypeId), kept); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (d *FilesystemDriver) LastObservedValueId() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sensorTypeIds, err := d.storedSensorTypeIds()
	if err != nil {
		return 0, err
	}
	var last int64
	for _, sensorTypeId := range sensorTypeIds {
		stored, err := d.readObservedValues(sensorTypeId)
		if err != nil {
			return 0, err
		}
		for _, v := range stored {
			if v.Id > last {
				last = v.Id
			}
		}
	}
	return last, nil
}

func (d *FilesystemDriver) observationsPath(sensorTypeId int64) string {
	return filepath.Join(d.root, observationsFolder, strconv.FormatInt(sensorTypeId, 10)+".json")
}

func (d *FilesystemDriver) storedSensorTypeIds() ([]int64, error) {
	ids := make([]int64, 0)
	err := filepath.WalkDir(filepath.Join(d.root, observationsFolder), visitBySensorTypeId(&ids, d.logger))
	if err != nil {
		return nil, errors.Wrap(err, "list observation files")
	}
	return ids, nil
}

func visitBySensorTypeId(ids *[]int64, logger *slog.Logger) fs.WalkDirFunc {
	return func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			logger.Warn("skipping unexpected file in observations store", "path", path)
			return nil
		}
		*ids = append(*ids, id)
		return nil
	}
}

func (d *FilesystemDriver) readSensorTypes() ([]models.SensorType, error) {
	types := make([]models.SensorType, 0)
	if err := d.readJson(filepath.Join(d.root, sensorTypesFile), &types); err != nil {
		return nil, err
	}
	return types, nil
}

func (d *FilesystemDriver) readObservedValues(sensorTypeId int64) ([]models.ObservedValue, error) {
	values := make([]models.ObservedValue, 0)
	if err := d.readJson(d.observationsPath(sensorTypeId), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// readJson leaves out untouched when the file does not exist yet.
func (d *FilesystemDriver) readJson(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

func (d *FilesystemDriver) writeJson(path string, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "encode")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		d.logger.Error("could not write store file", "path", tmp, "err", err)
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrap(os.Rename(tmp, path), "rename")
}
