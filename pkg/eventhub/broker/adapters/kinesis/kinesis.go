// Package kinesis adapts Event publication to an AWS Kinesis data stream,
// grounded on pkg/streaming/adapters/kinesis. It is publish-only: it leaves
// BaseAdapter.DoSubscribe unset, so the Subscribe it inherits from
// BaseAdapter returns an InvalidState error, which the registry treats as an
// absent capability and skips.
package kinesis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker"
)

// Config configures a Kinesis broker port.
type Config struct {
	Name       string
	StreamName string
}

// Adapter is a Kinesis-backed, publish-only BrokerPort.
type Adapter struct {
	*broker.BaseAdapter

	cfg    Config
	client *kinesis.Client
}

func New(cfg Config) *Adapter {
	a := &Adapter{cfg: cfg}
	a.BaseAdapter = broker.NewBaseAdapter(cfg.Name, "kinesis")
	a.BaseAdapter.DoConnect = a.doConnect
	a.BaseAdapter.DoDisconnect = a.doDisconnect
	a.BaseAdapter.DoPublish = a.doPublish
	return a
}

func (a *Adapter) doConnect(ctx context.Context) error {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("kinesis: load aws config: %w", err)
	}
	a.client = kinesis.NewFromConfig(awsCfg)
	return nil
}

func (a *Adapter) doDisconnect(ctx context.Context) error {
	a.client = nil
	return nil
}

func (a *Adapter) doPublish(ctx context.Context, e *eventhub.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kinesis: marshal event: %w", err)
	}

	partitionKey := e.CorrelationID
	if partitionKey == "" {
		partitionKey = e.ID
	}

	_, err = a.client.PutRecord(ctx, &kinesis.PutRecordInput{
		StreamName:   aws.String(a.cfg.StreamName),
		PartitionKey: aws.String(partitionKey),
		Data:         payload,
	})
	return err
}
