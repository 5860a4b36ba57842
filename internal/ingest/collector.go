package ingest

import (
	"crypto/tls"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"wristnode/internal/buffer"
)

// Config configures the sensor-subsystem link.
type Config struct {
	Broker          string
	Port            int
	Username        string
	Password        string
	UseTLS          bool
	InsecureSkipTLS bool
	ClientID        string
	PageTopic       string
}

// Collector subscribes to raw acquisition pages, stages them in the
// overwrite-oldest page ring, and runs a decode worker that unpacks samples
// into the sample ring. The subscription callback does nothing but a ring
// push, so a slow decoder can never back up into the link.
type Collector struct {
	cfg    Config
	client mqtt.Client
	pages  *buffer.PageRing
	ring   *buffer.SampleRing
	stats  *Statistics
	logger *zap.Logger

	wake chan struct{}
	done chan struct{}

	lastDropLog time.Time
}

func NewCollector(cfg Config, ring *buffer.SampleRing, stats *Statistics, logger *zap.Logger) *Collector {
	return &Collector{
		cfg:    cfg,
		pages:  buffer.NewPageRing(32, PageSize),
		ring:   ring,
		stats:  stats,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *Collector) Start() error {
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
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		c.logger.Warn("sensor link lost", zap.Error(err))
	}

	c.client = mqtt.NewClient(opts)

	c.logger.Info("connecting sensor link",
		zap.String("broker", c.cfg.Broker),
		zap.String("page_topic", c.cfg.PageTopic))

	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("sensor link connect timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("sensor link connect: %w", token.Error())
	}

	go c.decodeWorker()
	return nil
}

func (c *Collector) Stop() {
	close(c.done)
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(1000)
	}
}

func (c *Collector) onConnect(client mqtt.Client) {
	token := client.Subscribe(c.cfg.PageTopic, 0, c.onPage)
	if !token.WaitTimeout(5 * time.Second) {
		c.logger.Error("page subscribe timeout", zap.String("topic", c.cfg.PageTopic))
		return
	}
	if token.Error() != nil {
		c.logger.Error("page subscribe failed", zap.Error(token.Error()))
		return
	}
	c.logger.Info("sensor link up", zap.String("topic", c.cfg.PageTopic))
}

func (c *Collector) onPage(client mqtt.Client, msg mqtt.Message) {
	if !c.pages.Push(msg.Payload()) {
		// Wrong-size payload; not one of ours.
		c.stats.RecordPage(false)
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// decodeWorker drains staged pages and feeds the sample ring. Samples the
// ring cannot take are dropped and counted; the producer side never blocks.
func (c *Collector) decodeWorker() {
	for {
		select {
		case <-c.wake:
			c.drainPages()
		case <-c.done:
			return
		}
	}
}

func (c *Collector) drainPages() {
	for {
		raw, ok := c.pages.Pop()
		if !ok {
			return
		}

		page, err := DecodePage(raw)
		if err != nil {
			c.stats.RecordPage(false)
			c.logger.Debug("discarding malformed page", zap.Error(err))
			continue
		}
		c.stats.RecordPage(true)

		for _, s := range page.Samples {
			pushed := c.ring.Push(s)
			c.stats.RecordSample(pushed)
			if !pushed && time.Since(c.lastDropLog) >= time.Second {
				c.lastDropLog = time.Now()
				c.logger.Warn("sample ring full, dropping",
					zap.Uint64("dropped_total", c.stats.SamplesDropped()))
			}
		}
	}
}
