package appctx

import (
	"context"
	stderrors "errors"
	"fmt"

	apperrors "github.com/chris-alexander-pop/go-eventhub/pkg/errors"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker"
	kafkabroker "github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker/adapters/kafka"
	kinesisbroker "github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker/adapters/kinesis"
	memorybroker "github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker/adapters/memory"
	redisstreambroker "github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker/adapters/redisstream"
	"github.com/chris-alexander-pop/go-eventhub/pkg/logger"
)

// Context is the application-context collaborator: it owns an *EventHub,
// drives its lifecycle, and is the only type in this module allowed to read
// process-boundary configuration or translate eventhub's rich error type
// into the ambient pkg/errors taxonomy (SPEC_FULL.md section 4.9).
type Context struct {
	cfg Config
	hub *eventhub.EventHub
}

// New loads Config, wires a logger and an EventHub (plus whichever broker
// port the config names), and returns a Context ready for Start. It does
// not call Start itself - callers decide when the hub begins running.
func New(envFile string) (*Context, error) {
	cfg, err := LoadConfig(envFile)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a Context from an already-loaded Config, useful for
// tests that want to bypass environment variables entirely.
func NewWithConfig(cfg Config) (*Context, error) {
	initLogger(cfg)

	hub, err := eventhub.New(eventhub.HubConfig{
		Name:             cfg.HubName,
		ShutdownDeadline: cfg.ShutdownDeadline,
	})
	if err != nil {
		return nil, translateError(err)
	}

	c := &Context{cfg: cfg, hub: hub}

	port, err := c.buildPort()
	if err != nil {
		return nil, err
	}
	if port != nil {
		if err := hub.RegisterPort(port); err != nil {
			return nil, translateError(err)
		}
	}

	return c, nil
}

// buildPort constructs the broker port named by cfg.BrokerDriver, wrapped
// with the standard Instrumented+Resilient decorators the way every
// pkg/messaging broker in the teacher's stack is wrapped. BrokerNone
// returns (nil, nil): a hub with no registered port is valid, it simply has
// nothing to fan Publish out to.
func (c *Context) buildPort() (broker.Port, error) {
	var base broker.Port

	switch c.cfg.BrokerDriver {
	case "", BrokerNone:
		return nil, nil
	case BrokerMemory:
		base = memorybroker.New(c.cfg.BrokerName, false)
	case BrokerKafka:
		base = kafkabroker.New(kafkabroker.Config{
			Name:    c.cfg.BrokerName,
			Brokers: c.cfg.KafkaBrokers,
			Topic:   c.cfg.KafkaTopic,
			GroupID: c.cfg.KafkaGroupID,
		})
	case BrokerRedisStream:
		base = redisstreambroker.New(redisstreambroker.Config{
			Name:     c.cfg.BrokerName,
			Addr:     c.cfg.RedisAddr,
			Password: c.cfg.RedisPassword,
			DB:       c.cfg.RedisDB,
			Stream:   c.cfg.RedisStream,
			Group:    c.cfg.RedisGroup,
		})
	case BrokerKinesis:
		base = kinesisbroker.New(kinesisbroker.Config{
			Name:       c.cfg.BrokerName,
			StreamName: c.cfg.KinesisStreamName,
		})
	default:
		return nil, apperrors.InvalidArgument(fmt.Sprintf("unknown broker driver %q", c.cfg.BrokerDriver), nil)
	}

	instrumented := broker.NewInstrumented(base)
	return broker.NewResilient(instrumented, broker.ResilientConfig{
		CircuitBreakerEnabled:   true,
		CircuitBreakerThreshold: 5,
		RetryEnabled:            true,
		RetryMaxAttempts:        3,
	}), nil
}

// Hub returns the underlying EventHub for callers that need direct access
// to its Queue/Topic/On surface.
func (c *Context) Hub() *eventhub.EventHub { return c.hub }

// Start initializes and starts the hub, connecting its registered port (if
// any). Errors from the core are translated to *pkg/errors.AppError.
func (c *Context) Start(ctx context.Context) error {
	if err := c.hub.Initialize(ctx); err != nil {
		return translateError(err)
	}
	if err := c.hub.Start(ctx); err != nil {
		return translateError(err)
	}
	logger.L().InfoContext(ctx, "application context started", "hub", c.cfg.HubName, "broker", c.cfg.BrokerDriver)
	return nil
}

// Stop drains and stops the hub, waiting up to its configured shutdown
// deadline.
func (c *Context) Stop(ctx context.Context) error {
	if err := c.hub.Stop(ctx); err != nil {
		return translateError(err)
	}
	logger.L().InfoContext(ctx, "application context stopped", "hub", c.cfg.HubName)
	return nil
}

// translateError maps an *eventhub.Error onto the ambient *pkg/errors.AppError
// taxonomy, matching by eventhub.Code so HTTPStatus() and the rest of
// pkg/errors' substring-based mapping keep working for callers above this
// boundary. Any other error (a broker adapter's raw error, for instance)
// is wrapped as CodeInternal.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var hubErr *eventhub.Error
	if !stderrors.As(err, &hubErr) {
		return apperrors.Internal(err.Error(), err)
	}

	switch hubErr.Code {
	case eventhub.CodeNotFound:
		return apperrors.NotFound(hubErr.Message, hubErr)
	case eventhub.CodeAlreadyExists:
		return apperrors.Conflict(hubErr.Message, hubErr)
	case eventhub.CodeInvalidConfig, eventhub.CodeValidationFailed:
		return apperrors.InvalidArgument(hubErr.Message, hubErr)
	case eventhub.CodeTimeout:
		return apperrors.Timeout(hubErr.Message, hubErr)
	case eventhub.CodeQueueFull:
		return apperrors.Unavailable(hubErr.Message, hubErr)
	case eventhub.CodeInvalidState:
		return apperrors.Conflict(hubErr.Message, hubErr)
	default:
		return apperrors.Internal(hubErr.Message, hubErr)
	}
}
