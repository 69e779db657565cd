package observation

import (
	"context"
	"encoding/json"
	"github.com/andreikom/ac-observator/pkg/broker"
	"github.com/andreikom/ac-observator/pkg/metrics"
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/andreikom/ac-observator/pkg/storage"
	"github.com/pkg/errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultCleanupInterval = 12 * time.Hour
	DefaultFlushInterval   = 100 * time.Millisecond
	maxClockSkew           = 5 * time.Minute
	maxPendingValues       = 500
)

// Sink receives every value once it has been stored.
type Sink interface {
	Forward(ctx context.Context, v models.ObservedValue) error
	Close() error
}

// queueMsg is the payload travelling through the Queue.
type queueMsg struct {
	SensorTypeId int64     `json:"sensorTypeId"`
	Value        float64   `json:"value"`
	CreatedAt    time.Time `json:"createdAt"`
	Source       string    `json:"source"`
}

type Service struct {
	storage storage.Driver
	queue   Queue
	sink    Sink
	live    broker.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	retention       time.Duration
	cleanupInterval time.Duration
	flushInterval   time.Duration

	mu      sync.RWMutex
	types   map[int64]models.SensorType
	windows map[int64]*window
	lastId  int64
	pending []models.ObservedValue
}

type Option func(*Service)

func WithRetention(d time.Duration) Option {
	return func(s *Service) { s.retention = d }
}

func WithCleanupInterval(d time.Duration) Option {
	return func(s *Service) { s.cleanupInterval = d }
}

func WithFlushInterval(d time.Duration) Option {
	return func(s *Service) { s.flushInterval = d }
}

func WithSink(sink Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithPublisher(p broker.Publisher) Option {
	return func(s *Service) { s.live = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService loads the sensor types, seeding the defaults into an empty store,
// and warms the recent value cache from storage.
func NewService(driver storage.Driver, queue Queue, opts ...Option) (*Service, error) {
	s := &Service{
		storage:         driver,
		queue:           queue,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:             time.Now,
		retention:       DefaultRetention,
		cleanupInterval: DefaultCleanupInterval,
		flushInterval:   DefaultFlushInterval,
		types:           make(map[int64]models.SensorType),
		windows:         make(map[int64]*window),
	}
	for _, opt := range opts {
		opt(s)
	}

	types, err := driver.GetSensorTypes()
	if err != nil {
		return nil, errors.Wrap(err, "load sensor types")
	}
	for _, t := range types {
		s.types[t.Id] = t
		s.windows[t.Id] = newWindow()
	}
	if len(s.types) == 0 {
		if err := s.seedDefaults(); err != nil {
			return nil, err
		}
	}

	s.lastId, err = driver.LastObservedValueId()
	if err != nil {
		return nil, errors.Wrap(err, "load last observed value id")
	}
	if err := s.initCache(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) seedDefaults() error {
	for _, name := range models.SensorNames {
		t, err := s.RegisterSensorType(string(name), models.DefaultUnit(name))
		if err != nil {
			return errors.Wrapf(err, "seed sensor type %s", name)
		}
		s.logger.Info("seeded sensor type", "id", t.Id, "name", t.Name, "unit", t.Unit)
	}
	return nil
}

func (s *Service) initCache() error {
	cutoff := s.now().Add(-s.retention)
	for id, w := range s.windows {
		values, err := s.storage.GetObservedValues(id, cutoff, time.Time{})
		if err != nil {
			return errors.Wrapf(err, "warm cache for sensor type %d", id)
		}
		for _, v := range values {
			w.add(v)
		}
		s.logger.Debug("cache warmed", "sensorTypeId", id, "values", len(values))
	}
	return nil
}

func (s *Service) RegisterSensorType(name string, unit string) (models.SensorType, error) {
	sensorName, err := models.ParseSensorName(name)
	if err != nil {
		return models.SensorType{}, errors.Wrap(models.ErrValidation, err.Error())
	}
	if unit == "" {
		unit = models.DefaultUnit(sensorName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var nextId int64 = 1
	for id, existing := range s.types {
		if existing.Name == sensorName {
			return models.SensorType{}, errors.Wrapf(models.ErrDuplicateSensorType, "sensor type %s exists with id %d", name, id)
		}
		if id >= nextId {
			nextId = id + 1
		}
	}
	t := models.SensorType{
		Id:        nextId,
		CreatedAt: s.now().UTC(),
		Name:      sensorName,
		Unit:      unit,
	}
	if err := t.Validate(); err != nil {
		return models.SensorType{}, err
	}
	if err := s.storage.SaveSensorType(t); err != nil {
		return models.SensorType{}, errors.Wrap(err, "save sensor type")
	}
	s.types[t.Id] = t
	s.windows[t.Id] = newWindow()
	return t, nil
}

func (s *Service) SensorTypes() []models.SensorType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.SensorType, 0, len(s.types))
	for _, t := range s.types {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Id < result[j].Id })
	return result
}

func (s *Service) SensorType(id int64) (models.SensorType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[id]
	if !ok {
		return models.SensorType{}, errors.Wrapf(models.ErrNotFound, "sensor type %d", id)
	}
	return t, nil
}

func (s *Service) SensorTypeByName(name models.SensorName) (models.SensorType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.types {
		if t.Name == name {
			return t, nil
		}
	}
	return models.SensorType{}, errors.Wrapf(models.ErrNotFound, "sensor type %s", name)
}

// Submit validates a reading and queues it for storage.
func (s *Service) Submit(ctx context.Context, source string, r models.Reading) error {
	if err := s.checkReading(&r); err != nil {
		s.metrics.ReadingRejected(rejectReason(err))
		return err
	}
	body, err := json.Marshal(queueMsg{
		SensorTypeId: r.SensorTypeId,
		Value:        *r.Value,
		CreatedAt:    r.CreatedAt,
		Source:       source,
	})
	if err != nil {
		return errors.Wrap(err, "encode reading")
	}
	if err := s.queue.Publish(ctx, body); err != nil {
		s.metrics.ReadingRejected("queue")
		return errors.Wrap(err, "queue reading")
	}
	s.metrics.ReadingAccepted(source)
	return nil
}

func (s *Service) checkReading(r *models.Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.RLock()
	err := models.ValidateReference(models.ObservedValue{SensorTypeId: r.SensorTypeId}, s.types)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.CreatedAt = r.CreatedAt.UTC()
	if r.CreatedAt.Before(now.Add(-s.retention)) {
		return errors.Wrapf(models.ErrValidation, "createdAt %s is older than the retention window", r.CreatedAt.Format(time.RFC3339))
	}
	if r.CreatedAt.After(now.Add(maxClockSkew)) {
		return errors.Wrapf(models.ErrValidation, "createdAt %s is in the future", r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrUnknownSensorType):
		return "unknown_sensor_type"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	}
	return "other"
}

// Run consumes the queue and runs the retention cleanup until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	messages, err := s.queue.Consume(ctx)
	if err != nil {
		return errors.Wrap(err, "consume queue")
	}
	flush := time.NewTicker(s.flushInterval)
	defer flush.Stop()
	cleanup := time.NewTicker(s.cleanupInterval)
	defer cleanup.Stop()

	s.logger.Info("waiting for readings")
	for {
		select {
		case <-ctx.Done():
			s.drain(messages)
			s.flush(context.Background())
			return nil
		case body, ok := <-messages:
			if !ok {
				s.flush(ctx)
				return nil
			}
			s.ingest(body)
			if s.pendingLen() >= maxPendingValues {
				s.flush(ctx)
			}
		case <-flush.C:
			s.flush(ctx)
		case <-cleanup.C:
			s.CleanOldEntries(s.now())
		}
	}
}

func (s *Service) ingest(body []byte) {
	msg := &queueMsg{}
	if err := json.Unmarshal(body, msg); err != nil {
		s.logger.Error("could not decode a message from queue", "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[msg.SensorTypeId]
	if !ok {
		s.logger.Warn("dropping reading for unknown sensor type", "sensorTypeId", msg.SensorTypeId)
		return
	}
	s.lastId++
	v := models.ObservedValue{
		Id:           s.lastId,
		CreatedAt:    msg.CreatedAt.UTC(),
		SensorTypeId: msg.SensorTypeId,
		Value:        msg.Value,
	}
	w.add(v)
	s.pending = append(s.pending, v)
}

// drain ingests whatever is already buffered without waiting for more.
func (s *Service) drain(messages <-chan []byte) {
	for {
		select {
		case body, ok := <-messages:
			if !ok {
				return
			}
			s.ingest(body)
		default:
			return
		}
	}
}

func (s *Service) pendingLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

func (s *Service) flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if err := s.storage.SaveObservedValues(batch); err != nil {
		// keep the batch ahead of newer values and retry on the next flush
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		s.logger.Error("could not save observed values", "count", len(batch), "err", err)
		return
	}
	for _, v := range batch {
		s.metrics.ValueStored(v.SensorTypeId)
		if s.live != nil {
			s.live.Publish(v)
		}
		if s.sink != nil {
			if err := s.sink.Forward(ctx, v); err != nil {
				s.logger.Warn("could not forward observed value", "id", v.Id, "err", err)
			}
		}
	}
	s.logger.Debug("stored observed values", "count", len(batch))
}

// CleanOldEntries drops everything older than the retention window.
func (s *Service) CleanOldEntries(now time.Time) {
	cutoff := now.Add(-s.retention)
	s.mu.Lock()
	for id, w := range s.windows {
		if n := w.evictBefore(cutoff); n > 0 {
			s.logger.Debug("evicted cached values", "sensorTypeId", id, "count", n)
		}
	}
	s.mu.Unlock()

	deleted, err := s.storage.DeleteObservedValuesBefore(cutoff)
	if err != nil {
		s.logger.Error("could not clean old observed values", "err", err)
		return
	}
	s.metrics.ValuesPurged(deleted)
	s.logger.Info("old records cleaned", "before", cutoff.Format(time.RFC3339), "deleted", deleted)
}

// Values returns the observed values of a sensor type with from <= createdAt < to.
// The part of the window inside retention is served from the cache.
func (s *Service) Values(sensorTypeId int64, from, to time.Time) ([]models.ObservedValue, error) {
	s.mu.RLock()
	w, ok := s.windows[sensorTypeId]
	s.mu.RUnlock()
	if !ok {
		return nil, &models.UnknownSensorTypeError{Id: sensorTypeId}
	}
	if !to.IsZero() && !from.Before(to) {
		return nil, errors.Wrap(models.ErrValidation, "from must be before to")
	}

	cutoff := s.now().Add(-s.retention)
	result := make([]models.ObservedValue, 0)
	if from.Before(cutoff) {
		end := cutoff
		if !to.IsZero() && to.Before(cutoff) {
			end = to
		}
		old, err := s.storage.GetObservedValues(sensorTypeId, from, end)
		if err != nil {
			return nil, errors.Wrap(err, "load observed values")
		}
		result = append(result, old...)
		from = cutoff
	}
	if !to.IsZero() && !from.Before(to) {
		return result, nil
	}
	s.mu.RLock()
	result = append(result, w.between(from, to)...)
	s.mu.RUnlock()
	return result, nil
}

func (s *Service) Latest(sensorTypeId int64) (models.ObservedValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[sensorTypeId]
	if !ok {
		return models.ObservedValue{}, &models.UnknownSensorTypeError{Id: sensorTypeId}
	}
	v, ok := w.latest()
	if !ok {
		return models.ObservedValue{}, errors.Wrapf(models.ErrNotFound, "no values for sensor type %d", sensorTypeId)
	}
	return v, nil
}

func (s *Service) DailyStats(sensorTypeId int64, date string) (models.Stats, error) {
	from, to, err := parseDay(date)
	if err != nil {
		return models.Stats{}, err
	}
	values, err := s.Values(sensorTypeId, from, to)
	if err != nil {
		return models.Stats{}, err
	}
	return calculateStats(sensorTypeId, values)
}

// WeeklyStats covers the whole retention window.
func (s *Service) WeeklyStats(sensorTypeId int64) (models.Stats, error) {
	values, err := s.Values(sensorTypeId, s.now().Add(-s.retention), time.Time{})
	if err != nil {
		return models.Stats{}, err
	}
	return calculateStats(sensorTypeId, values)
}

// CachedValues reports how many values are held in memory per sensor type.
func (s *Service) CachedValues() map[int64]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[int64]int, len(s.windows))
	for id, w := range s.windows {
		result[id] = w.len()
	}
	return result
}
