package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client the transport calls.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Envelope is the SQS message body.
type Envelope struct {
	Event      string     `json:"event"`
	DistinctID string     `json:"distinct_id"`
	Properties Properties `json:"properties"`
	Timestamp  time.Time  `json:"timestamp"`
}

// SQS queues events for a downstream consumer.
type SQS struct {
	client     SQSAPI
	queueURL   string
	distinctID string
	now        func() time.Time
}

func NewSQS(client SQSAPI, queueURL, distinctID string) *SQS {
	return &SQS{client: client, queueURL: queueURL, distinctID: distinctID, now: time.Now}
}

// Init checks the queue exists and we can see it.
func (s *SQS) Init(ctx context.Context) error {
	if s.queueURL == "" {
		return ErrNotConfigured
	}
	_, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(s.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("get queue attributes: %w", err)
	}
	return nil
}

func (s *SQS) Capture(ctx context.Context, event string, props Properties) error {
	if s.queueURL == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(Envelope{
		Event:      event,
		DistinctID: s.distinctID,
		Properties: props,
		Timestamp:  s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(event)},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing to SQS: %w", err)
	}
	return nil
}

func (s *SQS) Close(context.Context) error { return nil }
