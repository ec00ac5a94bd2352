// Package redisstream adapts Event publication and consumption to a Redis
// Stream via go-redis, using a consumer group so concurrent subscribers
// split delivery rather than each seeing every message.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker"
)

// Config configures a Redis Streams broker port.
type Config struct {
	Name     string
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

// Adapter is a Redis Streams-backed BrokerPort.
type Adapter struct {
	*broker.BaseAdapter

	cfg    Config
	client *redis.Client
	cancel context.CancelFunc
}

func New(cfg Config) *Adapter {
	if cfg.Consumer == "" {
		cfg.Consumer = cfg.Name
	}
	a := &Adapter{cfg: cfg}
	a.BaseAdapter = broker.NewBaseAdapter(cfg.Name, "redis-stream")
	a.BaseAdapter.DoConnect = a.doConnect
	a.BaseAdapter.DoDisconnect = a.doDisconnect
	a.BaseAdapter.DoPublish = a.doPublish
	a.BaseAdapter.DoSubscribe = a.doSubscribe
	a.BaseAdapter.DoUnsubscribe = a.doUnsubscribe
	a.BaseAdapter.DoIsReady = a.doIsReady
	return a
}

func (a *Adapter) doConnect(ctx context.Context) error {
	a.client = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Addr,
		Password: a.cfg.Password,
		DB:       a.cfg.DB,
	})
	if err := a.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisstream: ping: %w", err)
	}

	err := a.client.XGroupCreateMkStream(ctx, a.cfg.Stream, a.cfg.Group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("redisstream: create group: %w", err)
	}
	return nil
}

func (a *Adapter) doIsReady() bool {
	if a.client == nil {
		return false
	}
	return a.client.Ping(context.Background()).Err() == nil
}

func (a *Adapter) doDisconnect(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) doPublish(ctx context.Context, e *eventhub.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redisstream: marshal event: %w", err)
	}
	return a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: a.cfg.Stream,
		Values: map[string]interface{}{"event": payload},
	}).Err()
}

func (a *Adapter) doSubscribe(ctx context.Context, handler broker.InboundHandler) error {
	consumeCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.consumeLoop(consumeCtx, handler)
	return nil
}

func (a *Adapter) consumeLoop(ctx context.Context, handler broker.InboundHandler) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := a.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    a.cfg.Group,
			Consumer: a.cfg.Consumer,
			Streams:  []string{a.cfg.Stream, ">"},
			Count:    10,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				raw, ok := msg.Values["event"].(string)
				if !ok {
					continue
				}
				var e eventhub.Event
				if err := json.Unmarshal([]byte(raw), &e); err == nil {
					a.BaseAdapter.HandleIncomingEvent(&e)
				}
				a.client.XAck(ctx, a.cfg.Stream, a.cfg.Group, msg.ID)
			}
		}
	}
}

func (a *Adapter) doUnsubscribe(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}
