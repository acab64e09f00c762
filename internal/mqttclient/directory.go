// Package mqttclient bridges the out-of-scope CSV-driven unit-tag
// directory loader to a RadioIDReplacer: the loader publishes its
// already-materialized rule document as a retained MQTT message
// whenever the directory changes, and UnitDirectory feeds each update
// straight into the replacer's in-memory rule set.
package mqttclient

import (
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/callscribe/internal/metadata"
)

// radioIDLoader is the subset of metadata.RadioIDReplacer this package
// depends on, so tests can substitute a fake without touching the
// filesystem.
type radioIDLoader interface {
	LoadFromBytes(data []byte) error
}

// Options configures WatchUnitDirectory. Topics is a comma-separated
// list of MQTT topic filters the unit-tag loader publishes rule
// documents on; an empty value subscribes to everything ("#").
type Options struct {
	BrokerURL string
	ClientID  string
	Topics    string
	Username  string
	Password  string
	Log       zerolog.Logger
}

// UnitDirectory holds a reconnecting MQTT subscription to the unit-tag
// loader's topic set and applies every delivered rule document to a
// RadioIDReplacer. The loader owns CSV parsing entirely; this package
// only moves bytes from the broker to the replacer. The connection is
// long-lived; call Close to tear it down.
type UnitDirectory struct {
	conn      mqtt.Client
	topics    []string
	connected atomic.Bool
	replacer  radioIDLoader
	log       zerolog.Logger
}

// WatchUnitDirectory dials opts.BrokerURL and applies every unit-tag
// rule document delivered on opts.Topics to replacer, auto-reconnecting
// and re-subscribing on connection loss.
func WatchUnitDirectory(opts Options, replacer *metadata.RadioIDReplacer) (*UnitDirectory, error) {
	d := &UnitDirectory{
		topics:   parseTopics(opts.Topics),
		replacer: replacer,
		log:      opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(d.onConnect).
		SetConnectionLostHandler(d.onConnectionLost).
		SetDefaultPublishHandler(d.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	d.conn = mqtt.NewClient(clientOpts)
	token := d.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *UnitDirectory) onConnect(client mqtt.Client) {
	d.connected.Store(true)
	d.log.Info().Strs("topics", d.topics).Msg("unit-tag directory mqtt connected, subscribing")

	filters := make(map[string]byte, len(d.topics))
	for _, t := range d.topics {
		filters[t] = 0
	}
	token := client.SubscribeMultiple(filters, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		d.log.Error().Err(err).Msg("unit-tag directory mqtt subscribe failed")
	}
}

func (d *UnitDirectory) onConnectionLost(_ mqtt.Client, err error) {
	d.connected.Store(false)
	d.log.Warn().Err(err).Msg("unit-tag directory mqtt connection lost, will auto-reconnect")
}

// onMessage adapts a delivered paho message to applyUpdate.
func (d *UnitDirectory) onMessage(_ mqtt.Client, msg mqtt.Message) {
	d.applyUpdate(msg.Topic(), msg.Payload())
}

// applyUpdate applies a delivered unit-tag rule document straight to
// the replacer. A malformed update is logged and dropped, not fatal: a
// bad publish from the loader should not bring down transcription for
// calls that don't need a unit-tag lookup.
func (d *UnitDirectory) applyUpdate(topic string, payload []byte) {
	if err := d.replacer.LoadFromBytes(payload); err != nil {
		d.log.Warn().Err(err).Str("topic", topic).Msg("unit-tag directory update rejected")
		return
	}
	d.log.Info().Str("topic", topic).Int("bytes", len(payload)).Msg("unit-tag directory updated from mqtt")
}

// IsConnected reports whether the directory currently holds a live
// connection to the broker.
func (d *UnitDirectory) IsConnected() bool {
	return d.connected.Load()
}

// Close disconnects from the broker, waiting up to one second for
// in-flight acknowledgements.
func (d *UnitDirectory) Close() {
	d.log.Info().Msg("disconnecting unit-tag directory mqtt client")
	d.conn.Disconnect(1000)
}

// parseTopics splits a comma-separated topic list, defaulting to the
// wildcard filter when none are given.
func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return []string{"#"}
	}
	return topics
}
