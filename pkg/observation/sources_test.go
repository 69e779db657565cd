package observation

import (
	"context"
	"encoding/json"
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type fakeWriter struct {
	messages []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	return nil
}

func TestKafkaSinkForward(t *testing.T) {
	writer := &fakeWriter{}
	sink := &KafkaSink{writer: writer, timeout: time.Second}
	v := models.ObservedValue{Id: 5, CreatedAt: testNow, SensorTypeId: 2, Value: 49.97}
	require.NoError(t, sink.Forward(context.Background(), v))

	require.Len(t, writer.messages, 1)
	require.Equal(t, []byte("2"), writer.messages[0].Key)
	require.Equal(t, testNow, writer.messages[0].Time)
	decoded := models.ObservedValue{}
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	require.Equal(t, v, decoded)
}

func TestMQTTSourceHandleMessage(t *testing.T) {
	s := newTestService(t, newTestStore(t), &testClock{now: testNow})
	source := NewMQTTSource(nil, "ac-observator/readings/", s, testLogger)
	require.Equal(t, "ac-observator/readings/+", source.topic())

	err := source.handleMessage("ac-observator/readings/frequency", []byte(`{"value":50.01,"createdAt":"2024-03-10T11:59:00Z"}`))
	require.NoError(t, err)

	messages, err := s.queue.Consume(context.Background())
	require.NoError(t, err)
	msg := queueMsg{}
	require.NoError(t, json.Unmarshal(<-messages, &msg))
	require.Equal(t, queueMsg{SensorTypeId: 2, Value: 50.01, CreatedAt: testNow.Add(-time.Minute), Source: "mqtt"}, msg)

	err = source.handleMessage("ac-observator/readings/current", []byte(`{"value":1}`))
	require.True(t, errors.Is(err, models.ErrValidation))

	err = source.handleMessage("ac-observator/readings/voltage", []byte(`not json`))
	require.True(t, errors.Is(err, models.ErrValidation))

	err = source.handleMessage("ac-observator/readings/voltage", []byte(`{"createdAt":"2024-03-10T11:59:00Z"}`))
	require.True(t, errors.Is(err, models.ErrValidation))
}
