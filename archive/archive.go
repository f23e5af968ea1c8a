// Package archive uploads finished match summaries to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

type Archiver interface {
	Archive(ctx context.Context, matchID string, summary interface{}) error
}

type S3Archiver struct {
	client *s3.Client
	bucket string
}

func NewS3Archiver(client *s3.Client, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

// NewR2Archiver builds an archiver for a Cloudflare R2 bucket.
func NewR2Archiver(ctx context.Context, accountID, accessKeyID, accessKeySecret, bucket string) (*S3Archiver, error) {
	if accountID == "" || bucket == "" {
		return nil, fmt.Errorf("CLOUDFLARE_ACCOUNT_ID and R2_BUCKET_NAME are required for the archive")
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID))
	})
	return NewS3Archiver(client, bucket), nil
}

// ObjectKey is where a match summary is stored.
func ObjectKey(matchID string) string {
	return fmt.Sprintf("matches/%s.json", slug.Make(matchID))
}

func (a *S3Archiver) Archive(ctx context.Context, matchID string, summary interface{}) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode match summary: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ObjectKey(matchID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload match summary: %w", err)
	}
	return nil
}
