// internal/common/aws/sns.go
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"play-entitlements/internal/models"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
)

const EventEntitlementReconciled = "entitlement.reconciled"

// PublishAPI is the part of the SNS client used here.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client PublishAPI
}

func NewSNSClient(ctx context.Context, region string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SNSClient{client: sns.NewFromConfig(cfg)}, nil
}

func NewSNSClientFromAPI(api PublishAPI) *SNSClient {
	return &SNSClient{client: api}
}

func (s *SNSClient) Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
	return s.client.Publish(ctx, input)
}

// EntitlementEvent is the message body published after every reconciliation.
type EntitlementEvent struct {
	EventID     string                    `json:"eventId"`
	EventType   string                    `json:"eventType"`
	OccurredAt  time.Time                 `json:"occurredAt"`
	Entitlement *models.EntitlementRecord `json:"entitlement"`
}

type EntitlementPublisher struct {
	client   *SNSClient
	topicARN string
	now      func() time.Time
}

func NewEntitlementPublisher(client *SNSClient, topicARN string) *EntitlementPublisher {
	return &EntitlementPublisher{client: client, topicARN: topicARN, now: time.Now}
}

// PublishEntitlementChange sends rec to the topic as an entitlement.reconciled event.
func (p *EntitlementPublisher) PublishEntitlementChange(ctx context.Context, rec *models.EntitlementRecord) error {
	event := EntitlementEvent{
		EventID:     uuid.NewString(),
		EventType:   EventEntitlementReconciled,
		OccurredAt:  p.now().UTC(),
		Entitlement: rec,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode entitlement event: %w", err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: awssdk.String(p.topicARN),
		Message:  awssdk.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: awssdk.String("String"), StringValue: awssdk.String(EventEntitlementReconciled)},
			"isPro":     {DataType: awssdk.String("String"), StringValue: awssdk.String(fmt.Sprintf("%t", rec.IsPro))},
			"source":    {DataType: awssdk.String("String"), StringValue: awssdk.String(string(rec.LastSource))},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topicARN, err)
	}
	return nil
}
