package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"matrixout/internal/logger"
	"matrixout/internal/output"
)

// ClientMQTT публикует состояние выходных устройств.
type ClientMQTT struct {
	ctx       context.Context
	log       logger.Logger
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	lastSent  time.Time
	now       func() time.Time
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf) *ClientMQTT {
	if cfgClient.Schema == "" {
		cfgClient.Schema = "tcp"
	}
	if cfgClient.ConnectTimeout <= 0 {
		cfgClient.ConnectTimeout = DefaultConnectTimeout
	}
	return &ClientMQTT{
		log:       log,
		cfgClient: cfgClient,
		now:       time.Now,
	}
}

// Start connects to the broker. It waits at most ConnectTimeout for the first
// connection; after that the client keeps retrying in the background and
// Report publishes once it is connected.
func (c *ClientMQTT) Start(ctx context.Context) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.ctx = ctx

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)

	timer := time.NewTimer(c.cfgClient.ConnectTimeout)
	defer timer.Stop()

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-timer.C:
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("broker %s:%s not reachable after %v, retrying in background",
			c.cfgClient.Host, c.cfgClient.Port, c.cfgClient.ConnectTimeout)
		return nil
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.log.With(logger.Fields{"module": "mqtt"}).Infof("Status: %v", c.client.IsConnected())
	return nil
}

// Stop disconnects from the broker and ends pending connection retries.
func (c *ClientMQTT) Stop() error {
	if c.client != nil {
		c.client.Disconnect(500)
	}
	return nil
}

func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v", err)
}

// Report publishes stats when the publish interval has elapsed since the
// last publication. It never blocks the caller on the broker.
func (c *ClientMQTT) Report(stats []output.Stats) {
	now := c.now()
	if !c.lastSent.IsZero() && now.Sub(c.lastSent) < c.cfgClient.Interval {
		return
	}
	c.lastSent = now
	for _, s := range stats {
		c.publish(s, now)
	}
}

func (c *ClientMQTT) publish(s output.Stats, now time.Time) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}
	topic := Topic(c.cfgClient.Topic, s.Name)
	msg, err := Payload(s, now)
	if err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Errorf("status message for %s: %v", s.Name, err)
		return
	}

	token := c.client.Publish(topic, c.cfgClient.Qos, true, msg)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}

// Topic returns the status topic of a device.
func Topic(prefix, device string) string {
	return strings.TrimRight(prefix, "/") + "/" + device
}

// Payload encodes s as a StatusMessage.
func Payload(s output.Stats, now time.Time) ([]byte, error) {
	return json.Marshal(StatusMessage{
		Name:        s.Name,
		Kind:        s.Kind,
		Initialized: s.Initialized,
		Sent:        s.Sent,
		Skipped:     s.Skipped,
		Errors:      s.Errors,
		Time:        now.UTC(),
	})
}
