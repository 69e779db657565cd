package api

import (
	"github.com/andreikom/ac-observator/pkg/metrics"
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/chrispappas/golang-generics-set/set"
	"log/slog"
	"net/http"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"time"
)

type subscriber interface {
	Subscribe() chan models.ObservedValue
	Unsubscribe(msgCh chan models.ObservedValue)
}

// streamRequest is the first message a dashboard sends after connecting.
type streamRequest struct {
	SensorTypeIds []int64 `json:"sensorTypeIds"`
	WindowMs      int64   `json:"windowMs"`
}

type streamController struct {
	service observationService
	live    subscriber
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func (s *streamController) Stream(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "closed unexpectedly")
	}()

	ctx := req.Context()
	request := streamRequest{}
	if err := wsjson.Read(ctx, conn, &request); err != nil {
		s.logger.Debug("websocket read failed", "err", err)
		return
	}
	ctx = conn.CloseRead(ctx)

	filter := newStreamFilter(request.SensorTypeIds)
	for _, id := range request.SensorTypeIds {
		if _, err := s.service.SensorType(id); err != nil {
			_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
			return
		}
	}

	// subscribe before the backlog so nothing falls in between
	msgCh := s.live.Subscribe()
	s.metrics.SubscriberAdded()
	defer func() {
		s.live.Unsubscribe(msgCh)
		s.metrics.SubscriberRemoved()
	}()

	if request.WindowMs > 0 {
		from := time.Now().Add(-time.Duration(request.WindowMs) * time.Millisecond)
		for _, id := range filter.sensorTypeIds() {
			values, err := s.service.Values(id, from, time.Time{})
			if err != nil {
				s.logger.Warn("could not load stream backlog", "sensorTypeId", id, "err", err)
				continue
			}
			for _, v := range values {
				if err := wsjson.Write(ctx, conn, v); err != nil {
					return
				}
				filter.sent(v)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-msgCh:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if !filter.allow(v) {
				continue
			}
			if err := wsjson.Write(ctx, conn, v); err != nil {
				s.logger.Debug("websocket write failed", "err", err)
				return
			}
		}
	}
}

// streamFilter passes live values of the wanted sensor types that were not
// already sent as backlog.
type streamFilter struct {
	wanted  set.Set[int64]
	backlog set.Set[int64]
}

func newStreamFilter(sensorTypeIds []int64) *streamFilter {
	return &streamFilter{
		wanted:  set.FromSlice(sensorTypeIds),
		backlog: set.FromSlice([]int64{}),
	}
}

func (f *streamFilter) sensorTypeIds() []int64 {
	ids := make([]int64, 0, len(f.wanted))
	for id := range f.wanted {
		ids = append(ids, id)
	}
	return ids
}

func (f *streamFilter) sent(v models.ObservedValue) {
	f.backlog.Add(v.Id)
}

func (f *streamFilter) allow(v models.ObservedValue) bool {
	if !f.wanted.Has(v.SensorTypeId) {
		return false
	}
	if f.backlog.Has(v.Id) {
		// a value is published once, so its backlog entry is done
		f.backlog.Delete(v.Id)
		return false
	}
	return true
}
