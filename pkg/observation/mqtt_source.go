package observation

import (
	"context"
	"encoding/json"
	"github.com/andreikom/ac-observator/pkg/models"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"log/slog"
	"strings"
	"time"
)

const mqttSource = "mqtt"

type submitter interface {
	Submit(ctx context.Context, source string, r models.Reading) error
	SensorTypeByName(name models.SensorName) (models.SensorType, error)
}

// mqttPayload is what sensors publish on <prefix>/<sensorName>.
type mqttPayload struct {
	Value     *float64  `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

type MQTTSource struct {
	client    mqtt.Client
	prefix    string
	submitter submitter
	logger    *slog.Logger
	ctx       context.Context
}

func ConnectMQTT(brokerUrl string, clientId string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerUrl).
		SetClientID(clientId).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "connect to mqtt broker")
	}
	return c, nil
}

func NewMQTTSource(client mqtt.Client, prefix string, s submitter, logger *slog.Logger) *MQTTSource {
	return &MQTTSource{
		client:    client,
		prefix:    strings.TrimSuffix(prefix, "/"),
		submitter: s,
		logger:    logger,
		ctx:       context.Background(),
	}
}

func (m *MQTTSource) topic() string {
	return m.prefix + "/+"
}

func (m *MQTTSource) Start(ctx context.Context) error {
	m.ctx = ctx
	token := m.client.Subscribe(m.topic(), 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := m.handleMessage(msg.Topic(), msg.Payload()); err != nil {
			m.logger.Warn("rejected mqtt reading", "topic", msg.Topic(), "err", err)
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "subscribe %s", m.topic())
	}
	m.logger.Info("subscribed to mqtt readings", "topic", m.topic())
	return nil
}

func (m *MQTTSource) handleMessage(topic string, payload []byte) error {
	name, err := models.ParseSensorName(topic[strings.LastIndex(topic, "/")+1:])
	if err != nil {
		return errors.Wrap(models.ErrValidation, err.Error())
	}
	sensorType, err := m.submitter.SensorTypeByName(name)
	if err != nil {
		return err
	}
	p := mqttPayload{}
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.Wrap(models.ErrValidation, "payload: "+err.Error())
	}
	return m.submitter.Submit(m.ctx, mqttSource, models.Reading{
		SensorTypeId: sensorType.Id,
		Value:        p.Value,
		CreatedAt:    p.CreatedAt,
	})
}

func (m *MQTTSource) Stop() {
	m.client.Unsubscribe(m.topic()).Wait()
	m.client.Disconnect(250)
}
