package api

import (
	"context"
	"encoding/json"
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const httpSource = "http"

// observationService is what the transports need from observation.Service.
type observationService interface {
	RegisterSensorType(name string, unit string) (models.SensorType, error)
	SensorTypes() []models.SensorType
	SensorType(id int64) (models.SensorType, error)
	Submit(ctx context.Context, source string, r models.Reading) error
	Values(sensorTypeId int64, from, to time.Time) ([]models.ObservedValue, error)
	Latest(sensorTypeId int64) (models.ObservedValue, error)
	DailyStats(sensorTypeId int64, date string) (models.Stats, error)
	WeeklyStats(sensorTypeId int64) (models.Stats, error)
	CachedValues() map[int64]int
}

type observationController struct {
	service observationService
	logger  *slog.Logger
}

type sensorTypeRequest struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *observationController) ListSensorTypes(w http.ResponseWriter, _ *http.Request) {
	c.writeJson(w, http.StatusOK, c.service.SensorTypes())
}

func (c *observationController) CreateSensorType(w http.ResponseWriter, req *http.Request) {
	body := &sensorTypeRequest{}
	if err := json.NewDecoder(req.Body).Decode(body); err != nil {
		c.writeError(w, errors.Wrap(models.ErrValidation, "could not parse the payload: "+err.Error()))
		return
	}
	sensorType, err := c.service.RegisterSensorType(body.Name, body.Unit)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJson(w, http.StatusCreated, sensorType)
}

func (c *observationController) GetSensorType(w http.ResponseWriter, req *http.Request) {
	id, err := pathId(req)
	if err != nil {
		c.writeError(w, err)
		return
	}
	sensorType, err := c.service.SensorType(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJson(w, http.StatusOK, sensorType)
}

func (c *observationController) SubmitReading(w http.ResponseWriter, req *http.Request) {
	reading := models.Reading{}
	if err := json.NewDecoder(req.Body).Decode(&reading); err != nil {
		c.writeError(w, errors.Wrap(models.ErrValidation, "could not parse the payload: "+err.Error()))
		return
	}
	if err := c.service.Submit(req.Context(), httpSource, reading); err != nil {
		c.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *observationController) ListObservedValues(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	sensorTypeId, err := strconv.ParseInt(query.Get("sensorTypeId"), 10, 64)
	if err != nil {
		c.writeError(w, errors.Wrap(models.ErrValidation, "sensorTypeId must be a number"))
		return
	}
	from, err := queryTime(query.Get("from"))
	if err != nil {
		c.writeError(w, err)
		return
	}
	to, err := queryTime(query.Get("to"))
	if err != nil {
		c.writeError(w, err)
		return
	}
	values, err := c.service.Values(sensorTypeId, from, to)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJson(w, http.StatusOK, values)
}

func (c *observationController) GetLatest(w http.ResponseWriter, req *http.Request) {
	id, err := pathId(req)
	if err != nil {
		c.writeError(w, err)
		return
	}
	value, err := c.service.Latest(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJson(w, http.StatusOK, value)
}

func (c *observationController) GetDailyStats(w http.ResponseWriter, req *http.Request) {
	id, err := pathId(req)
	if err != nil {
		c.writeError(w, err)
		return
	}
	stats, err := c.service.DailyStats(id, mux.Vars(req)["date"])
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJson(w, http.StatusOK, stats)
}

func (c *observationController) GetWeeklyStats(w http.ResponseWriter, req *http.Request) {
	id, err := pathId(req)
	if err != nil {
		c.writeError(w, err)
		return
	}
	stats, err := c.service.WeeklyStats(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.writeJson(w, http.StatusOK, stats)
}

func (c *observationController) Health(w http.ResponseWriter, _ *http.Request) {
	cached := make(map[string]int)
	for id, n := range c.service.CachedValues() {
		cached[strconv.FormatInt(id, 10)] = n
	}
	c.writeJson(w, http.StatusOK, map[string]any{
		"status": "ok",
		"cached": cached,
	})
}

func pathId(req *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	if err != nil {
		return 0, errors.Wrap(models.ErrValidation, "id must be a number")
	}
	return id, nil
}

func queryTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.Wrapf(models.ErrValidation, "%q is not an RFC3339 timestamp", value)
	}
	return t, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownSensorType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidSensorName):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateSensorType):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (c *observationController) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.logger.Error("request failed", "err", err)
	}
	c.writeJson(w, status, errorResponse{Error: err.Error()})
}

func (c *observationController) writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		c.logger.Warn("could not write response", "err", err)
	}
}
