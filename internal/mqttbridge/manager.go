// Package mqttbridge mirrors lamp state to an MQTT broker and accepts
// on/off commands from it.
package mqttbridge

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Manager handles all MQTT operations.
type Manager interface {
	Publish(topic string, qos byte, retained bool, payload any) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	TopicPrefix() string
	AvailabilityTopic() string
}

// BrokerConfig describes how to reach the broker.
type BrokerConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	// ConnectWait bounds how long Connect waits for the first connection
	// before leaving it to retry in the background. Zero means 10s.
	ConnectWait time.Duration
}

const (
	operationTimeout     = 5 * time.Second
	connectRetryInterval = 10 * time.Second
)

type pahoManager struct {
	client      mqtt.Client
	topicPrefix string
}

// NewManager wraps a paho client.
func NewManager(client mqtt.Client, topicPrefix string) Manager {
	return &pahoManager{client: client, topicPrefix: topicPrefix}
}

// Connect dials the broker with a retained last-will on the availability
// topic. onConnect runs after every (re)connection. A broker that is down at
// startup is retried in the background.
func Connect(cfg BrokerConfig, onConnect func(Manager)) (Manager, mqtt.Client, error) {
	availTopic := fmt.Sprintf("%s/status", cfg.TopicPrefix)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetOrderMatters(false)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(availTopic, "offline", 1, true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("Connected to MQTT broker %s", cfg.Broker)
		c.Publish(availTopic, 1, true, "online")
		if onConnect != nil {
			onConnect(NewManager(c, cfg.TopicPrefix))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	mgr := NewManager(client, cfg.TopicPrefix)
	wait := cfg.ConnectWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	token := client.Connect()
	if !token.WaitTimeout(wait) {
		log.Printf("MQTT broker %s not reachable yet, retrying every %s", cfg.Broker, connectRetryInterval)
		return mgr, client, nil
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("MQTT connection failed: %w", err)
	}
	return mgr, client, nil
}

func (m *pahoManager) Publish(topic string, qos byte, retained bool, payload any) error {
	var payloadBytes []byte
	switch v := payload.(type) {
	case string:
		payloadBytes = []byte(v)
	case []byte:
		payloadBytes = v
	default:
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}
	token := m.client.Publish(topic, qos, retained, payloadBytes)
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func (m *pahoManager) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	token := m.client.Subscribe(topic, qos, handler)
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	return token.Error()
}

func (m *pahoManager) IsConnected() bool {
	return m.client.IsConnected()
}

func (m *pahoManager) TopicPrefix() string {
	return m.topicPrefix
}

func (m *pahoManager) AvailabilityTopic() string {
	return fmt.Sprintf("%s/status", m.topicPrefix)
}
