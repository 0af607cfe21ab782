// Package mqtt publishes device lifecycle events onto an MQTT broker for
// external observers — optional, disableable, and nil-safe so the core
// never needs a nil check before calling it.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/devicectl-core/internal/infrastructure/config"
	"github.com/nerrad567/devicectl-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicectl-core/internal/messages"
)

const defaultConnectTimeout = 10 * time.Second

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Error(msg string, args ...any)
	Info(msg string, args ...any)
}

// Publisher publishes DeviceAdded/DeviceRemoved/ScanningFinished events
// to a configured MQTT topic as JSON. A nil *Publisher is valid and every
// method on it is a no-op — callers never need to check cfg.Enabled
// themselves.
type Publisher struct {
	client pahomqtt.Client
	topic  string
	qos    byte
	log    Logger
}

// Connect establishes the MQTT connection described by cfg. Returns
// (nil, nil) when cfg.Enabled is false — the zero value *Publisher is a
// safe no-op.
func Connect(cfg config.MQTTConfig, log *logging.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if log == nil {
		log = logging.Noop()
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(defaultConnectTimeout)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect timeout after %v", defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", err)
	}

	return &Publisher{client: client, topic: cfg.Topic, qos: 1, log: log}, nil
}

// PublishDeviceAdded publishes a DeviceAdded lifecycle event.
func (p *Publisher) PublishDeviceAdded(ev messages.DeviceAdded) {
	p.publish("device_added", ev)
}

// PublishDeviceRemoved publishes a DeviceRemoved lifecycle event.
func (p *Publisher) PublishDeviceRemoved(ev messages.DeviceRemoved) {
	p.publish("device_removed", ev)
}

// PublishScanningFinished publishes a ScanningFinished lifecycle event.
func (p *Publisher) PublishScanningFinished() {
	p.publish("scanning_finished", messages.NewScanningFinished())
}

func (p *Publisher) publish(subtopic string, payload any) {
	if p == nil || p.client == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("mqtt: failed to marshal event", "subtopic", subtopic, "error", err)
		return
	}
	topic := fmt.Sprintf("%s/%s", p.topic, subtopic)
	token := p.client.Publish(topic, p.qos, false, data)
	go func() {
		if token.WaitTimeout(defaultConnectTimeout) && token.Error() != nil {
			p.log.Error("mqtt: publish failed", "topic", topic, "error", token.Error())
		}
	}()
}

// Close disconnects from the broker. Safe to call on a nil *Publisher.
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
