package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/eternalsentinel/sentinel/internal/pkg/logger"
)

// SNSTexter sends SMS by publishing directly to an E.164 phone number
// through AWS SNS.
type SNSTexter struct {
	client   *sns.Client
	senderID string
}

// NewSNSTexter creates an SNS SMS transport.
func NewSNSTexter(ctx context.Context, accessKey, secretKey, region, senderID string) (*SNSTexter, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("sns config: %w", err)
	}
	return &SNSTexter{client: sns.NewFromConfig(cfg), senderID: senderID}, nil
}

// SendSMS publishes one text message.
func (s *SNSTexter) SendSMS(ctx context.Context, msg *SMS) error {
	if msg.To == "" {
		return ErrNoRecipient
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(msg.To),
		Message:     aws.String(msg.Message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			// Liveness prompts are time-critical; never let the carrier
			// deprioritize them as promotional traffic.
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}
	if s.senderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[SNS] Sent SMS to %s (id: %s)", logger.RedactPhone(msg.To), messageID)
	return nil
}
