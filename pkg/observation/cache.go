package observation

import (
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/gammazero/deque"
	"time"
)

// window holds the recent values of one sensor type ordered by createdAt.
type window struct {
	values *deque.Deque[models.ObservedValue]
}

func newWindow() *window {
	return &window{values: deque.New[models.ObservedValue](0, 64)}
}

func (w *window) add(v models.ObservedValue) {
	if w.values.Len() == 0 || !v.CreatedAt.Before(w.values.Back().CreatedAt) {
		w.values.PushBack(v)
		return
	}
	// late arrival, rewind to its position
	var later []models.ObservedValue
	for w.values.Len() > 0 && v.CreatedAt.Before(w.values.Back().CreatedAt) {
		later = append(later, w.values.PopBack())
	}
	w.values.PushBack(v)
	for i := len(later) - 1; i >= 0; i-- {
		w.values.PushBack(later[i])
	}
}

func (w *window) evictBefore(cutoff time.Time) int {
	evicted := 0
	for w.values.Len() > 0 && w.values.Front().CreatedAt.Before(cutoff) {
		w.values.PopFront()
		evicted++
	}
	return evicted
}

func (w *window) between(from, to time.Time) []models.ObservedValue {
	result := make([]models.ObservedValue, 0)
	for i := 0; i < w.values.Len(); i++ {
		v := w.values.At(i)
		if v.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !v.CreatedAt.Before(to) {
			break
		}
		result = append(result, v)
	}
	return result
}

func (w *window) latest() (models.ObservedValue, bool) {
	if w.values.Len() == 0 {
		return models.ObservedValue{}, false
	}
	return w.values.Back(), true
}

func (w *window) len() int {
	return w.values.Len()
}
