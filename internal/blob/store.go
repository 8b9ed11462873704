// Package blob stores per-owner snapshot files in S3 with whole-object
// get/put semantics only.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
)

var (
	errMissingAPI    = errors.New("blob: s3 client is required")
	errMissingBucket = errors.New("blob: bucket is required")

	// ErrSnapshotNotFound indicates the owner has no snapshot object. Fatal
	// for the task; the store never fabricates an empty database.
	ErrSnapshotNotFound = errors.New("blob: snapshot not found")
)

// s3API is the subset of *s3.S3 the store calls.
type s3API interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// Store reads and writes snapshot objects under one bucket.
type Store struct {
	s3     s3API
	bucket string
}

// NewStore wires an S3 client against the snapshot bucket.
func NewStore(s3Client s3API, bucket string) (*Store, error) {
	if s3Client == nil {
		return nil, errMissingAPI
	}
	if bucket == "" {
		return nil, errMissingBucket
	}
	return &Store{s3: s3Client, bucket: bucket}, nil
}

func snapshotKey(ownerID int64) string {
	return fmt.Sprintf("user_db/%d/sync_db.sqlite", ownerID)
}

// Download fetches the owner's snapshot bytes.
func (s *Store) Download(ctx context.Context, ownerID int64) ([]byte, error) {
	out, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(snapshotKey(ownerID)),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("%w: owner %d", ErrSnapshotNotFound, ownerID)
		}
		return nil, fmt.Errorf("blob: downloading snapshot for owner %d: %w", ownerID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blob: reading snapshot for owner %d: %w", ownerID, err)
	}
	return data, nil
}

// Upload replaces the owner's snapshot object wholesale.
func (s *Store) Upload(ctx context.Context, ownerID int64, data []byte) error {
	_, err := s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(snapshotKey(ownerID)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("blob: uploading snapshot for owner %d: %w", ownerID, err)
	}
	return nil
}
