// Package relay mirrors the route change feed to an external message broker
// so downstream consumers (dispatch dashboards, analytics) can follow
// deliveries without holding an SSE connection.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"

	"lastmile/config"
	"lastmile/feed"
)

// Relay is the unified broker publisher (MQTT or Kafka).
type Relay struct {
	mu       sync.RWMutex
	cfg      *config.RelayConfig
	backend  string
	mqttConn mqtt.Client
	kafkaW   *kafkago.Writer
	subID    feed.SubscriberID
	bus      *feed.Bus
}

// New creates a relay from config.
func New(cfg *config.RelayConfig) *Relay {
	return &Relay{cfg: cfg, backend: cfg.Backend}
}

// Connect establishes the broker connection.
func (r *Relay) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.backend {
	case "mqtt":
		return r.connectMQTT()
	case "kafka":
		return r.connectKafka()
	default:
		return fmt.Errorf("unknown relay backend: %s", r.backend)
	}
}

func (r *Relay) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", r.cfg.MQTT.Broker, r.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(r.cfg.MQTT.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	r.mqttConn = client
	return nil
}

func (r *Relay) connectKafka() error {
	r.kafkaW = &kafkago.Writer{
		Addr:         kafkago.TCP(r.cfg.Kafka.Brokers...),
		Topic:        r.cfg.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return nil
}

// Attach subscribes the relay to the feed bus. Events that cannot be
// published are dropped with a log line; the SSE feed remains the
// authoritative delivery path.
func (r *Relay) Attach(bus *feed.Bus) {
	r.bus = bus
	r.subID = bus.Subscribe(func(evt feed.Event) {
		data, err := json.Marshal(evt)
		if err != nil {
			return
		}
		if err := r.publish(data); err != nil {
			log.Printf("relay publish type=%s route=%s err=%v", evt.Type, evt.RouteID, err)
		}
	})
}

func (r *Relay) publish(payload []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch r.backend {
	case "mqtt":
		if r.mqttConn == nil || !r.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt not connected")
		}
		token := r.mqttConn.Publish(r.cfg.Topic, 1, false, payload)
		token.Wait()
		return token.Error()
	case "kafka":
		if r.kafkaW == nil {
			return fmt.Errorf("kafka writer not initialized")
		}
		return r.kafkaW.WriteMessages(context.Background(), kafkago.Message{Value: payload})
	default:
		return fmt.Errorf("unknown backend: %s", r.backend)
	}
}

// Close detaches from the bus and closes broker connections.
func (r *Relay) Close() {
	if r.bus != nil {
		r.bus.Unsubscribe(r.subID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mqttConn != nil {
		r.mqttConn.Disconnect(250)
	}
	if r.kafkaW != nil {
		r.kafkaW.Close()
	}
}
