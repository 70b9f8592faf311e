// Package publish pushes climate snapshots and energy samples to an MQTT
// broker so home-automation consumers can follow the unit without talking
// BLE themselves.
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaz8081/panasonic-hc/internal/climate"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures the publisher.
type Options struct {
	Broker      string // e.g. "tcp://192.168.1.10:1883"
	TopicPrefix string // e.g. "panasonic-hc/living-room"
	Username    string
	Password    string
}

// Publisher holds the broker connection and topic layout.
type Publisher struct {
	client mqtt.Client
	prefix string
	log    *slog.Logger
}

// stateMessage is the retained JSON document on <prefix>/state.
type stateMessage struct {
	Power       bool     `json:"power"`
	Mode        string   `json:"mode"`
	HVACMode    string   `json:"hvac_mode"`
	TargetTemp  float64  `json:"target_temp"`
	FanSpeed    string   `json:"fan_speed"`
	Powersave   bool     `json:"powersave"`
	CurrentTemp *float64 `json:"current_temp,omitempty"`
	OutdoorTemp *float64 `json:"outdoor_temp,omitempty"`
	Stale       bool     `json:"stale"`
	UpdatedAt   string   `json:"updated_at"`
}

type energyMessage struct {
	HourStart string `json:"hour_start"`
	EnergyWh  int    `json:"energy_wh"`
}

// Connect dials the broker. The will marks the availability topic offline
// if the daemon dies without a clean shutdown.
func Connect(opts Options) (*Publisher, error) {
	clientID := fmt.Sprintf("%s-%d", path.Base(os.Args[0]), os.Getpid())

	p := &Publisher{
		prefix: opts.TopicPrefix,
		log:    slog.Default().With("subsystem", "publish"),
	}

	conf := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(clientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetWill(p.topic("availability"), "offline", 1, true)

	p.client = mqtt.NewClient(conf)

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("publish: connect to %s: timeout", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("publish: connect to %s: %w", opts.Broker, err)
	}

	p.log.Info("connected to broker", "broker", opts.Broker, "client_id", clientID)
	if err := p.publish(p.topic("availability"), []byte("online"), true); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) topic(suffix string) string {
	return p.prefix + "/" + suffix
}

func (p *Publisher) publish(topic string, payload []byte, retain bool) error {
	token := p.client.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish: %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %s: %w", topic, err)
	}
	return nil
}

// PublishState puts the snapshot on <prefix>/state as a retained message,
// so late subscribers immediately see the last known state.
func (p *Publisher) PublishState(snap climate.Snapshot) error {
	msg := stateMessage{
		Power:      snap.Power,
		Mode:       snap.Mode.String(),
		HVACMode:   snap.HVACMode(),
		TargetTemp: snap.TargetTemp,
		FanSpeed:   snap.FanSpeed.String(),
		Powersave:  snap.Powersave,
		Stale:      snap.Stale,
		UpdatedAt:  snap.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if snap.HasCurrentTemp {
		t := snap.CurrentTemp
		msg.CurrentTemp = &t
	}
	if snap.HasOutdoorTemp {
		t := snap.OutdoorTemp
		msg.OutdoorTemp = &t
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("publish: marshal state: %w", err)
	}
	return p.publish(p.topic("state"), payload, true)
}

// PublishEnergy emits one hourly sample on <prefix>/energy. Not retained:
// history lives in the store, the topic is a live feed.
func (p *Publisher) PublishEnergy(sample climate.EnergySample) error {
	payload, err := json.Marshal(energyMessage{
		HourStart: sample.HourStart.UTC().Format(time.RFC3339),
		EnergyWh:  sample.EnergyWh,
	})
	if err != nil {
		return fmt.Errorf("publish: marshal energy: %w", err)
	}
	return p.publish(p.topic("energy"), payload, false)
}

// Close marks the availability topic offline and drops the connection.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		_ = p.publish(p.topic("availability"), []byte("offline"), true)
		p.client.Disconnect(250)
	}
}
