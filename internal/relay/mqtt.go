package relay

import (
	"path"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/config"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesce        = 250 // milliseconds
)

// Publisher forwards envelopes to an MQTT broker under
// <prefix>/<phoneId>/<type>. Status messages are retained so a new
// subscriber learns the current state of every account.
type Publisher struct {
	client pahomqtt.Client
	prefix string
	qos    byte
}

func buildClientOptions(cfg config.MqttConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWill(gatewayTopic(cfg.TopicPrefix), `{"status":"offline"}`, byte(cfg.Qos), true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		zap.L().Warn("relay: mqtt connection lost", zap.Error(err))
	})
	return opts
}

func gatewayTopic(prefix string) string {
	return path.Join(prefix, "gateway", "status")
}

// Topic is the destination of env.
func Topic(prefix string, env Envelope) string {
	return path.Join(prefix, env.PhoneID, env.Type)
}

// NewPublisher connects to the configured broker.
func NewPublisher(cfg config.MqttConfig) (*Publisher, error) {
	opts := buildClientOptions(cfg)
	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.Errorf("mqtt connect %s: timeout after %v", cfg.Broker, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "mqtt connect %s", cfg.Broker)
	}
	p := newPublisher(client, cfg.TopicPrefix, byte(cfg.Qos))
	client.Publish(gatewayTopic(cfg.TopicPrefix), p.qos, true, `{"status":"online"}`)
	zap.L().Info("relay: mqtt connected", zap.String("broker", cfg.Broker))
	return p, nil
}

func newPublisher(client pahomqtt.Client, prefix string, qos byte) *Publisher {
	return &Publisher{client: client, prefix: prefix, qos: qos}
}

// Handle is a Bus subscriber. It does not wait for the broker.
func (p *Publisher) Handle(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		zap.L().Error("relay: encode envelope failed", zap.Error(err))
		return
	}
	topic := Topic(p.prefix, env)
	token := p.client.Publish(topic, p.qos, env.Type == TypeStatus, payload)
	go func() {
		if !token.WaitTimeout(mqttPublishTimeout) {
			zap.L().Warn("relay: mqtt publish timeout", zap.String("topic", topic))
			return
		}
		if err := token.Error(); err != nil {
			zap.L().Warn("relay: mqtt publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// Close announces the gateway offline and disconnects.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		token := p.client.Publish(gatewayTopic(p.prefix), p.qos, true, `{"status":"offline"}`)
		token.WaitTimeout(mqttPublishTimeout)
	}
	p.client.Disconnect(mqttQuiesce)
}
