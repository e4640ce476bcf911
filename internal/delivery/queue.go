package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// readyTimeout bounds how long a firing waits for the background context
// before falling back to the direct channel.
const readyTimeout = 3 * time.Second

// QueueConfig holds background-queue settings.
type QueueConfig struct {
	Region   string
	QueueURL string
}

// QueueMessage is the payload enqueued for the host shell's background
// worker. It carries everything needed to render and route the
// notification without this agent being foregrounded.
type QueueMessage struct {
	NotificationID string `json:"notification_id"`
	Category       string `json:"category"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	URL            string `json:"url"`
	Silent         bool   `json:"silent,omitempty"`
	EnqueuedAt     int64  `json:"enqueued_at"`
}

// QueueChannel is the background execution context: deliveries pushed here
// reach the user even when the app is not foregrounded. Guarded by a
// breaker so a dead queue fails over to the bridge immediately.
type QueueChannel struct {
	client   *sqs.Client
	queueURL string
	breaker  *Breaker
	logger   *zap.Logger
}

// NewQueueChannel creates the background queue channel. A missing queue URL
// is allowed; the channel just reports unavailable.
func NewQueueChannel(ctx context.Context, cfg QueueConfig, logger *zap.Logger) (*QueueChannel, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("background queue channel initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &QueueChannel{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		breaker:  NewBreaker("queue", 3, 30*time.Second, logger),
		logger:   logger,
	}, nil
}

func (c *QueueChannel) Name() string {
	return "queue"
}

// Ready checks registration and breaker state. No network round trip: the
// breaker already encodes recent queue health, and the enqueue itself is
// bounded by the ready timeout.
func (c *QueueChannel) Ready(ctx context.Context) error {
	if c.queueURL == "" {
		return fmt.Errorf("%w: no background queue registered", ErrChannelUnavailable)
	}
	if err := c.breaker.Allow(); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return nil
}

// Deliver enqueues the notification for the background worker.
func (c *QueueChannel) Deliver(ctx context.Context, n *Notification) error {
	msg := QueueMessage{
		NotificationID: n.ID.String(),
		Category:       n.Category.String(),
		Title:          n.Title,
		Body:           n.Body,
		URL:            n.URL,
		Silent:         n.Silent,
		EnqueuedAt:     time.Now().UnixNano(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal queue message: %v", ErrDeliveryFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	result, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		c.breaker.RecordFailure()
		c.logger.Error("queue enqueue failed",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("%w: queue send: %v", ErrDeliveryFailed, err)
	}

	c.breaker.RecordSuccess()
	c.logger.Info("notification enqueued for background delivery",
		zap.String("notification_id", n.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
