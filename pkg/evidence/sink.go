package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink persists a Pack and returns the path/key/URI it was written to,
// per §4.J step 3 ("write-only, returns a path" — §6 outbound
// interfaces).
type Sink interface {
	Store(ctx context.Context, pack *Pack) (string, error)
}

// FileSink writes packs as single JSON files under Dir, named
// "<pack_id>.json".
type FileSink struct {
	Dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

func (s *FileSink) Store(ctx context.Context, pack *Pack) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("evidence: mkdir sink dir: %w", err)
	}
	b, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return "", fmt.Errorf("evidence: marshal pack: %w", err)
	}
	path := filepath.Join(s.Dir, pack.PackID+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("evidence: write pack: %w", err)
	}
	return path, nil
}

// S3Sink writes packs as objects in an S3 bucket under Prefix.
type S3Sink struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

func NewS3Sink(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{Client: client, Bucket: bucket, Prefix: prefix}
}

func (s *S3Sink) Store(ctx context.Context, pack *Pack) (string, error) {
	b, err := json.Marshal(pack)
	if err != nil {
		return "", fmt.Errorf("evidence: marshal pack: %w", err)
	}
	key := s.Prefix + pack.PackID + ".json"
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("evidence: s3 put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key), nil
}

// GCSSink writes packs as objects in a GCS bucket under Prefix.
type GCSSink struct {
	Client *storage.Client
	Bucket string
	Prefix string
}

func NewGCSSink(client *storage.Client, bucket, prefix string) *GCSSink {
	return &GCSSink{Client: client, Bucket: bucket, Prefix: prefix}
}

func (s *GCSSink) Store(ctx context.Context, pack *Pack) (string, error) {
	b, err := json.Marshal(pack)
	if err != nil {
		return "", fmt.Errorf("evidence: marshal pack: %w", err)
	}
	key := s.Prefix + pack.PackID + ".json"
	w := s.Client.Bucket(s.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(b); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("evidence: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("evidence: gcs close: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.Bucket, key), nil
}
