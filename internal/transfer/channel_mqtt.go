package transfer

import (
	"crypto/tls"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig configures the broker-backed companion channel.
type MQTTConfig struct {
	Broker          string
	Port            int
	Username        string
	Password        string
	UseTLS          bool
	InsecureSkipTLS bool
	ClientID        string
	DataTopic       string // outbound notification frames
	ControlTopic    string // inbound command writes
	NotifyTimeout   time.Duration
	MaxPayload      int
}

// MQTTChannel exposes a broker connection as the notify-capable link. A
// publish acts as the notification; token completion (bounded by
// NotifyTimeout) is the transport-level confirm the flow control waits on.
type MQTTChannel struct {
	cfg    MQTTConfig
	client mqtt.Client
	sink   *Service
	logger *zap.Logger
}

func NewMQTTChannel(cfg MQTTConfig, logger *zap.Logger) *MQTTChannel {
	return &MQTTChannel{cfg: cfg, logger: logger}
}

// Start connects to the broker, wires command delivery into service, and
// maps broker connectivity onto the protocol's connection state.
func (c *MQTTChannel) Start(service *Service) error {
	c.sink = service

	opts := mqtt.NewClientOptions()

	protocol := "tcp"
	if c.cfg.UseTLS {
		protocol = "tls"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", protocol, c.cfg.Broker, c.cfg.Port))
	opts.SetClientID(c.cfg.ClientID)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	if c.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipTLS})
	}

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = c.onConnectionLost

	c.client = mqtt.NewClient(opts)

	c.logger.Info("connecting companion channel",
		zap.String("broker", c.cfg.Broker),
		zap.String("client_id", c.cfg.ClientID))

	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

func (c *MQTTChannel) Stop() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(1000)
	}
}

func (c *MQTTChannel) onConnect(client mqtt.Client) {
	token := client.Subscribe(c.cfg.ControlTopic, 1, c.onCommand)
	if !token.WaitTimeout(5 * time.Second) {
		c.logger.Error("control subscribe timeout", zap.String("topic", c.cfg.ControlTopic))
		return
	}
	if token.Error() != nil {
		c.logger.Error("control subscribe failed", zap.Error(token.Error()))
		return
	}
	c.logger.Info("companion channel up", zap.String("control_topic", c.cfg.ControlTopic))
	c.sink.HandleConnect()
}

func (c *MQTTChannel) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Warn("companion channel lost", zap.Error(err))
	c.sink.HandleDisconnect()
}

func (c *MQTTChannel) onCommand(client mqtt.Client, msg mqtt.Message) {
	c.sink.HandleCommand(msg.Payload())
}

// Notify publishes one frame and waits, bounded, for the broker to confirm
// it. A timeout degrades to the same failure path as a rejected publish.
func (c *MQTTChannel) Notify(payload []byte) error {
	if !c.Connected() {
		return fmt.Errorf("notify: channel disconnected")
	}
	token := c.client.Publish(c.cfg.DataTopic, 1, false, payload)
	if !token.WaitTimeout(c.cfg.NotifyTimeout) {
		return fmt.Errorf("notify: completion wait exceeded %s", c.cfg.NotifyTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (c *MQTTChannel) MaxPayload() int {
	return c.cfg.MaxPayload
}

func (c *MQTTChannel) Connected() bool {
	return c.client != nil && c.client.IsConnected()
}
