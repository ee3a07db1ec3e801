package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/smarthomepi/pkg/config"
	"github.com/ericogr/smarthomepi/pkg/output"
	"github.com/ericogr/smarthomepi/pkg/sensor"
	"go.uber.org/zap"
)

const (
	publishTimeout = 5 * time.Second
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	keyPayloadOn           = "payload_on"
	keyPayloadOff          = "payload_off"
	stateClassMeasurement  = "measurement"
)

// entity is one Home Assistant entity derived from a reading kind.
type entity struct {
	component     string
	suffix        string
	name          string
	unit          string
	deviceClass   string
	valueTemplate string
}

var entities = map[sensor.Kind][]entity{
	sensor.KindClimate: {
		{component: "sensor", suffix: "temperature", name: "Temperature", unit: "°C", deviceClass: "temperature", valueTemplate: "{{ value_json.temperature }}"},
		{component: "sensor", suffix: "humidity", name: "Humidity", unit: "%", deviceClass: "humidity", valueTemplate: "{{ value_json.humidity }}"},
	},
	sensor.KindFlame: {
		{component: "binary_sensor", suffix: "fire", name: "Fire", deviceClass: "problem", valueTemplate: "{{ 'ON' if value_json.fire_detected else 'OFF' }}"},
	},
	sensor.KindGas: {
		{component: "sensor", suffix: "gas", name: "Gas", unit: "ppm", valueTemplate: "{{ value_json.ppm }}"},
	},
	sensor.KindLight: {
		{component: "sensor", suffix: "light", name: "Light", unit: "lx", deviceClass: "illuminance", valueTemplate: "{{ value_json.lux }}"},
	},
}

// publisher is the part of mqtt.Client the output needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTOutput struct {
	client          publisher
	topic           string
	discoveryPrefix string
	clientID        string
	qos             byte
	logger          *zap.Logger

	mu        sync.Mutex
	announced map[string]bool
}

func NewMQTT(cfg config.MQTTConfig, logger *zap.Logger) (output.Output, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	logger.Info("MQTT connected", zap.String("server", cfg.Server), zap.String("topic", cfg.Topic))
	return newMQTTOutput(client, cfg, logger), nil
}

func newMQTTOutput(client publisher, cfg config.MQTTConfig, logger *zap.Logger) *MQTTOutput {
	return &MQTTOutput{
		client:          client,
		topic:           cfg.Topic,
		discoveryPrefix: cfg.DiscoveryPrefix,
		clientID:        cfg.ClientID,
		qos:             cfg.QoS,
		logger:          logger,
		announced:       map[string]bool{},
	}
}

// Publish sends each reading as JSON to <topic>/<room_id>/<kind>. Discovery
// configs for a room/kind pair are published (retained) before its first state.
func (m *MQTTOutput) Publish(_ context.Context, readings []sensor.Reading) error {
	var errs []error
	for _, r := range readings {
		m.announce(r.Room(), r.Kind())
		b, err := json.Marshal(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.send(stateTopic(m.topic, r.Room(), r.Kind()), false, b); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", r.Kind(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

func (m *MQTTOutput) announce(roomID int64, kind sensor.Kind) {
	if m.discoveryPrefix == "" {
		return
	}
	key := fmt.Sprintf("%d/%s", roomID, kind)
	m.mu.Lock()
	done := m.announced[key]
	m.announced[key] = true
	m.mu.Unlock()
	if done {
		return
	}

	st := stateTopic(m.topic, roomID, kind)
	for _, e := range entities[kind] {
		uid := uniqueID(m.clientID, roomID, e.suffix)
		payload := discoveryPayload(e, roomID, st, uid)
		b, err := json.Marshal(payload)
		if err != nil {
			m.logger.Error("Failed to encode discovery payload", zap.String("unique_id", uid), zap.Error(err))
			continue
		}
		topic := fmt.Sprintf("%s/%s/%s/config", m.discoveryPrefix, e.component, uid)
		if err := m.send(topic, true, b); err != nil {
			m.logger.Warn("mqtt discovery publish error", zap.String("topic", topic), zap.Error(err))
			m.mu.Lock()
			delete(m.announced, key)
			m.mu.Unlock()
		}
	}
}

func (m *MQTTOutput) send(topic string, retained bool, payload []byte) error {
	token := m.client.Publish(topic, m.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

func stateTopic(base string, roomID int64, kind sensor.Kind) string {
	return fmt.Sprintf("%s/%d/%s", base, roomID, kind)
}

func uniqueID(clientID string, roomID int64, suffix string) string {
	return fmt.Sprintf("%s_room%d_%s", clientID, roomID, suffix)
}

func discoveryPayload(e entity, roomID int64, stateTopic, uid string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                fmt.Sprintf("Room %d %s", roomID, e.name),
		keyStateTopic:          stateTopic,
		keyValueTemplate:       e.valueTemplate,
		keyJSONAttributesTopic: stateTopic,
		keyUniqueID:            uid,
	}
	if e.deviceClass != "" {
		payload[keyDeviceClass] = e.deviceClass
	}
	if e.component == "binary_sensor" {
		payload[keyPayloadOn] = "ON"
		payload[keyPayloadOff] = "OFF"
		return payload
	}
	payload[keyUnitOfMeasurement] = e.unit
	payload[keyStateClass] = stateClassMeasurement
	return payload
}
