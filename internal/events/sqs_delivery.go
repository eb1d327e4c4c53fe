package events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDelivery forwards outbox entries to an SQS queue. The event type and
// clinic ride along as message attributes so consumers can filter cheaply.
type SQSDelivery struct {
	client   sqsAPI
	queueURL string
}

// NewSQSDelivery wraps an SQS client for outbox delivery.
func NewSQSDelivery(client sqsAPI, queueURL string) *SQSDelivery {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSDelivery{client: client, queueURL: queueURL}
}

func (d *SQSDelivery) Handle(ctx context.Context, entry OutboxEntry) error {
	_, err := d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
			"clinic_id":  {DataType: aws.String("String"), StringValue: aws.String(entry.ClinicID)},
			"event_id":   {DataType: aws.String("String"), StringValue: aws.String(entry.ID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("events: send %s to SQS: %w", entry.Type, err)
	}
	return nil
}
