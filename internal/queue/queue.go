// Package queue wraps the SQS transport consumed by the dispatcher:
// receive-batch, delete, and visibility extension.
package queue

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/profcard/syncworker/internal/userdb"
	"go.uber.org/zap"
)

const maxBatchSize = 10

var (
	errMissingAPI      = errors.New("queue: sqs client is required")
	errMissingQueueURL = errors.New("queue: queue url is required")

	// ErrMalformedMessage indicates the message body is not a valid task payload.
	ErrMalformedMessage = errors.New("queue: malformed message body")
)

// Task is one delivery pulled from the queue, ready for dispatch.
type Task struct {
	OwnerID     int64
	Changelog   userdb.Changelog
	Fingerprint string
	Handle      string
}

type taskBody struct {
	OwnerID   int64            `json:"db_owner_id"`
	Changelog userdb.Changelog `json:"changelog"`
}

// Client talks to one SQS queue.
type Client struct {
	sqs       sqsAPI
	queueURL  string
	batchSize int64
	logger    *zap.Logger
}

// sqsAPI is the subset of *sqs.SQS the client calls.
type sqsAPI interface {
	ReceiveMessageWithContext(ctx aws.Context, input *sqs.ReceiveMessageInput, opts ...request.Option) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageWithContext(ctx aws.Context, input *sqs.DeleteMessageInput, opts ...request.Option) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibilityWithContext(ctx aws.Context, input *sqs.ChangeMessageVisibilityInput, opts ...request.Option) (*sqs.ChangeMessageVisibilityOutput, error)
}

// NewClient wires an SQS client against one queue URL.
func NewClient(sqsClient sqsAPI, queueURL string, batchSize int, logger *zap.Logger) (*Client, error) {
	if sqsClient == nil {
		return nil, errMissingAPI
	}
	if queueURL == "" {
		return nil, errMissingQueueURL
	}
	if batchSize < 1 || batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{sqs: sqsClient, queueURL: queueURL, batchSize: int64(batchSize), logger: logger}, nil
}

// ReceiveBatch pulls up to the configured batch of deliveries. An empty slice
// means the queue had nothing to hand out. Malformed messages are skipped
// without acknowledgement so the queue's own redelivery policy walks them to
// the dead-letter path; one bad body never blocks the rest of the batch.
func (c *Client) ReceiveBatch(ctx context.Context) ([]Task, error) {
	out, err := c.sqs.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: aws.Int64(c.batchSize),
		AttributeNames:      []*string{aws.String(sqs.QueueAttributeNameAll)},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: receiving batch: %w", err)
	}

	tasks := make([]Task, 0, len(out.Messages))
	for _, msg := range out.Messages {
		task, err := decodeTask(msg)
		if err != nil {
			c.logger.Error("skipping malformed message",
				zap.String("message_id", aws.StringValue(msg.MessageId)),
				zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Delete acknowledges one delivery, removing it from the queue.
func (c *Client) Delete(ctx context.Context, handle string) error {
	_, err := c.sqs.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("queue: deleting message: %w", err)
	}
	return nil
}

// ExtendVisibility delays redelivery of one message by the given number of
// seconds without acknowledging it.
func (c *Client) ExtendVisibility(ctx context.Context, handle string, seconds int) error {
	_, err := c.sqs.ChangeMessageVisibilityWithContext(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: aws.Int64(int64(seconds)),
	})
	if err != nil {
		return fmt.Errorf("queue: extending visibility: %w", err)
	}
	return nil
}

func decodeTask(msg *sqs.Message) (Task, error) {
	body := aws.StringValue(msg.Body)

	var payload taskBody
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if payload.OwnerID == 0 {
		return Task{}, fmt.Errorf("%w: missing db_owner_id", ErrMalformedMessage)
	}

	fingerprint := aws.StringValue(msg.MD5OfBody)
	if fingerprint == "" {
		sum := md5.Sum([]byte(body))
		fingerprint = hex.EncodeToString(sum[:])
	}

	return Task{
		OwnerID:     payload.OwnerID,
		Changelog:   payload.Changelog,
		Fingerprint: fingerprint,
		Handle:      aws.StringValue(msg.ReceiptHandle),
	}, nil
}
