package eventhub

import (
	"regexp"
	"sync"
	"time"

	govalidator "github.com/go-playground/validator/v10"

	"github.com/chris-alexander-pop/go-eventhub/pkg/validator"
)

var hubNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

var (
	configValidatorOnce sync.Once
	configValidator      *validator.Validator
)

// sharedValidator lazily builds the package-wide validator.Validator,
// registering the "hubname" custom tag through the same
// Validator.Register(tag, fn) seam pkg/validator exposes for its own
// "slug"/"phone_e164"/"password_strong" tags.
func sharedValidator() *validator.Validator {
	configValidatorOnce.Do(func() {
		configValidator = validator.New()
		_ = RegisterHubNameTag(configValidator)
	})
	return configValidator
}

// RegisterHubNameTag wires the "hubname" custom tag into any
// validator.Validator instance. pkg/appctx calls this on its own validator
// instance so its Config struct can reuse the same `validate:"hubname"`
// tag this package validates HubConfig.Name against, without duplicating
// the regex.
func RegisterHubNameTag(v *validator.Validator) error {
	return v.Register("hubname", func(fl govalidator.FieldLevel) bool {
		return hubNameRegex.MatchString(fl.Field().String())
	})
}

// StorageType selects a Queue's underlying MessageBus implementation.
type StorageType string

const (
	StorageFIFO     StorageType = "fifo"
	StoragePriority StorageType = "priority"
)

// HubConfig configures an EventHub at construction time.
type HubConfig struct {
	Name              string        `validate:"required,hubname"`
	EnableMetrics     bool
	EventTimeout      time.Duration
	ShutdownDeadline  time.Duration
}

// WithDefaults sets a zero EventTimeout or ShutdownDeadline to 30s.
// EnableMetrics is left as given.
func (c HubConfig) WithDefaults() HubConfig {
	if c.EventTimeout == 0 {
		c.EventTimeout = 30 * time.Second
	}
	if c.ShutdownDeadline == 0 {
		c.ShutdownDeadline = 30 * time.Second
	}
	return c
}

// Validate checks Name against the "hubname" tag through the shared
// validator.Validator instance.
func (c HubConfig) Validate() error {
	if err := sharedValidator().ValidateStruct(c); err != nil {
		return ErrInvalidConfig("NewHub", "invalid hub configuration", err)
	}
	return nil
}

// QueueConfig configures a Queue created through a QueueManager.
type QueueConfig struct {
	Name                 string `validate:"required"`
	MaxSize              int    `validate:"gt=0"`
	Persistent           bool
	StorageType          StorageType
	EnableDeduplication  bool
	Metadata             map[string]interface{}
}

func (c QueueConfig) WithDefaults() QueueConfig {
	if c.MaxSize == 0 {
		c.MaxSize = 10000
	}
	if c.StorageType == "" {
		c.StorageType = StorageFIFO
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	return c
}

// ConsumeOptions configures Queue.Consume. ManualAck opts out of the
// default auto-ack behavior; its zero value (false) means "auto-ack",
// which keeps the zero-valued ConsumeOptions{} usable as-is instead of
// requiring every caller to set a bool whose "unset" and "false" states
// would otherwise be indistinguishable.
// MaintainOrder is not a field here: the consumer loop already dequeues and
// delivers one event at a time to the queue's single consumer (queue.go's
// consumeLoop/deliver are strictly sequential), so FIFO order is an
// unconditional guarantee of the single-consumer design, not a toggle.
type ConsumeOptions struct {
	MaxRetries  int
	RetryDelay  time.Duration
	ManualAck   bool
	ReceiveIdle time.Duration
}

func (o ConsumeOptions) WithDefaults() ConsumeOptions {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
	if o.ReceiveIdle == 0 {
		o.ReceiveIdle = 50 * time.Millisecond
	}
	return o
}

// TopicConfig configures a Topic created through a TopicManager.
type TopicConfig struct {
	Name       string `validate:"required"`
	Persistent bool
	TTL        time.Duration
}

// SubscribeOptions configures Topic.Subscribe.
type SubscribeOptions struct {
	Filter   func(*Event) bool
	Priority Priority
	Once     bool
}

// Serialization names the wire format a broker port adapter uses for its own
// transport; the core never encodes/decodes payloads itself.
type Serialization string

const (
	SerializationJSON     Serialization = "json"
	SerializationAvro     Serialization = "avro"
	SerializationProtobuf Serialization = "protobuf"
	SerializationCustom   Serialization = "custom"
)

// PortRetryConfig configures an adapter's own transport-level retry policy.
type PortRetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// PortConfig configures a BrokerPort adapter's connection.
type PortConfig struct {
	Name              string `validate:"required"`
	Type              string `validate:"required"`
	Connection        string
	Subscriptions     []string
	Serialization     Serialization
	Compression       bool
	ConnectionTimeout time.Duration
	Retry             PortRetryConfig
}

func (c PortConfig) WithDefaults() PortConfig {
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 10 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = 100 * time.Millisecond
	}
	return c
}
