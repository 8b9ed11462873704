package queue

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
)

type fakeSQS struct {
	messages   []*sqs.Message
	receiveErr error

	deleted  []string
	extended map[string]int64
}

func newFakeSQS(messages ...*sqs.Message) *fakeSQS {
	return &fakeSQS{messages: messages, extended: map[string]int64{}}
}

func (f *fakeSQS) ReceiveMessageWithContext(_ aws.Context, input *sqs.ReceiveMessageInput, _ ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	limit := int(aws.Int64Value(input.MaxNumberOfMessages))
	if limit > len(f.messages) {
		limit = len(f.messages)
	}
	batch := f.messages[:limit]
	f.messages = f.messages[limit:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessageWithContext(_ aws.Context, input *sqs.DeleteMessageInput, _ ...request.Option) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.StringValue(input.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibilityWithContext(_ aws.Context, input *sqs.ChangeMessageVisibilityInput, _ ...request.Option) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.extended[aws.StringValue(input.ReceiptHandle)] = aws.Int64Value(input.VisibilityTimeout)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func mustClient(t *testing.T, api sqsAPI) *Client {
	t.Helper()
	client, err := NewClient(api, "https://sqs.example/queue", 10, nil)
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}
	return client
}

func TestReceiveBatchDecodesTasks(t *testing.T) {
	body := `{"db_owner_id": 42, "changelog": {"Profile": {"1": {"action": "add", "data": {"name": "Alice"}}}}}`
	api := newFakeSQS(&sqs.Message{
		Body:          aws.String(body),
		MD5OfBody:     aws.String("abc123"),
		ReceiptHandle: aws.String("handle-1"),
	})
	client := mustClient(t, api)

	tasks, err := client.ReceiveBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}

	task := tasks[0]
	if task.OwnerID != 42 {
		t.Fatalf("expected owner 42, got %d", task.OwnerID)
	}
	if task.Fingerprint != "abc123" {
		t.Fatalf("expected fingerprint abc123, got %q", task.Fingerprint)
	}
	if task.Handle != "handle-1" {
		t.Fatalf("expected handle-1, got %q", task.Handle)
	}
	if len(task.Changelog["Profile"]) != 1 {
		t.Fatalf("expected decoded changelog, got %#v", task.Changelog)
	}
}

func TestReceiveBatchComputesFingerprintFallback(t *testing.T) {
	body := `{"db_owner_id": 42, "changelog": {}}`
	api := newFakeSQS(&sqs.Message{
		Body:          aws.String(body),
		ReceiptHandle: aws.String("handle-1"),
	})
	client := mustClient(t, api)

	tasks, err := client.ReceiveBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sum := md5.Sum([]byte(body))
	if want := hex.EncodeToString(sum[:]); tasks[0].Fingerprint != want {
		t.Fatalf("expected fingerprint %q, got %q", want, tasks[0].Fingerprint)
	}
}

func TestReceiveBatchSkipsMalformedBody(t *testing.T) {
	goodBody := `{"db_owner_id": 42, "changelog": {}}`
	api := newFakeSQS(
		&sqs.Message{
			Body:          aws.String("not json"),
			ReceiptHandle: aws.String("handle-bad"),
		},
		&sqs.Message{
			Body:          aws.String(goodBody),
			ReceiptHandle: aws.String("handle-good"),
		},
	)
	client := mustClient(t, api)

	tasks, err := client.ReceiveBatch(context.Background())
	if err != nil {
		t.Fatalf("a malformed body must not fail the batch: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Handle != "handle-good" {
		t.Fatalf("expected only the valid task, got %#v", tasks)
	}
	if len(api.deleted) != 0 {
		t.Fatalf("malformed messages must stay queued for the dead-letter path, got %v", api.deleted)
	}
}

func TestReceiveBatchSkipsMissingOwner(t *testing.T) {
	api := newFakeSQS(&sqs.Message{
		Body:          aws.String(`{"changelog": {}}`),
		ReceiptHandle: aws.String("handle-1"),
	})
	client := mustClient(t, api)

	tasks, err := client.ReceiveBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %#v", tasks)
	}
}

func TestDeleteAcknowledgesHandle(t *testing.T) {
	api := newFakeSQS()
	client := mustClient(t, api)

	if err := client.Delete(context.Background(), "handle-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "handle-9" {
		t.Fatalf("expected handle-9 to be deleted, got %v", api.deleted)
	}
}

func TestExtendVisibilityDelaysRedelivery(t *testing.T) {
	api := newFakeSQS()
	client := mustClient(t, api)

	if err := client.ExtendVisibility(context.Background(), "handle-9", 45); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.extended["handle-9"] != 45 {
		t.Fatalf("expected 45s extension, got %d", api.extended["handle-9"])
	}
}
