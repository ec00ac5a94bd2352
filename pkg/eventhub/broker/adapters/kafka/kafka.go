// Package kafka adapts Event publication and consumption to an Apache Kafka
// topic via sarama, grounded on pkg/messaging/adapters/kafka's sync producer.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker"
)

// Config configures a Kafka broker port.
type Config struct {
	Name    string
	Brokers []string
	Topic   string
	GroupID string
}

// Adapter is a Kafka-backed BrokerPort: publish via a sync producer,
// subscribe via a consumer group.
type Adapter struct {
	*broker.BaseAdapter

	cfg    Config
	client sarama.Client
	prod   sarama.SyncProducer
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
}

func New(cfg Config) *Adapter {
	a := &Adapter{cfg: cfg}
	a.BaseAdapter = broker.NewBaseAdapter(cfg.Name, "kafka")
	a.BaseAdapter.DoConnect = a.doConnect
	a.BaseAdapter.DoDisconnect = a.doDisconnect
	a.BaseAdapter.DoPublish = a.doPublish
	a.BaseAdapter.DoSubscribe = a.doSubscribe
	a.BaseAdapter.DoUnsubscribe = a.doUnsubscribe
	return a
}

func (a *Adapter) doConnect(ctx context.Context) error {
	scfg := sarama.NewConfig()
	scfg.Producer.Return.Successes = true
	scfg.Producer.RequiredAcks = sarama.WaitForAll
	scfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	client, err := sarama.NewClient(a.cfg.Brokers, scfg)
	if err != nil {
		return fmt.Errorf("kafka: new client: %w", err)
	}

	prod, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("kafka: new producer: %w", err)
	}

	a.client = client
	a.prod = prod
	return nil
}

func (a *Adapter) doDisconnect(ctx context.Context) error {
	if a.group != nil {
		_ = a.group.Close()
	}
	if a.prod != nil {
		_ = a.prod.Close()
	}
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func (a *Adapter) doPublish(ctx context.Context, e *eventhub.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     a.cfg.Topic,
		Value:     sarama.ByteEncoder(payload),
		Timestamp: e.Timestamp,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-id"), Value: []byte(e.ID)},
			{Key: []byte("event-type"), Value: []byte(e.Type)},
		},
	}

	_, _, err = a.prod.SendMessage(msg)
	return err
}

func (a *Adapter) doSubscribe(ctx context.Context, handler broker.InboundHandler) error {
	group, err := sarama.NewConsumerGroupFromClient(a.cfg.GroupID, a.client)
	if err != nil {
		return fmt.Errorf("kafka: new consumer group: %w", err)
	}
	a.group = group

	consumeCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	consumer := &consumerHandler{adapter: a, handler: handler}
	go func() {
		for {
			if consumeCtx.Err() != nil {
				return
			}
			if err := group.Consume(consumeCtx, []string{a.cfg.Topic}, consumer); err != nil {
				time.Sleep(time.Second)
			}
		}
	}()
	return nil
}

func (a *Adapter) doUnsubscribe(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.group != nil {
		return a.group.Close()
	}
	return nil
}

type consumerHandler struct {
	adapter *Adapter
	handler broker.InboundHandler
}

func (consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var e eventhub.Event
		if err := json.Unmarshal(msg.Value, &e); err == nil {
			h.adapter.BaseAdapter.HandleIncomingEvent(&e)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
