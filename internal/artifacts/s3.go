package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Brownie44l1/classifier-api/internal/config"
)

// ObjectGetter is the subset of the S3 client used to fetch artifacts.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Object maps a bucket key to the local path the loader reads.
type Object struct {
	Key  string
	Path string
}

// Syncer downloads model artifacts that are missing locally.
type Syncer struct {
	client     ObjectGetter
	bucket     string
	log        *zap.Logger
	newBackOff func() backoff.BackOff
}

func NewSyncer(client ObjectGetter, bucket string, log *zap.Logger) *Syncer {
	return &Syncer{
		client: client,
		bucket: bucket,
		log:    log,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = time.Minute
			return b
		},
	}
}

// NewS3Client builds an S3 client for the configured, possibly
// S3-compatible, endpoint.
func NewS3Client(ctx context.Context, cfg *config.ArtifactsConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Sync fetches every object whose local path does not exist yet. Objects
// missing from the bucket are skipped; the model loader decides whether
// that is fatal.
func (s *Syncer) Sync(ctx context.Context, objects []Object) error {
	for _, obj := range objects {
		if obj.Key == "" || obj.Path == "" {
			continue
		}
		if _, err := os.Stat(obj.Path); err == nil {
			s.log.Debug("Artifact present locally, skipping download", zap.String("path", obj.Path))
			continue
		}

		err := backoff.Retry(func() error {
			err := s.download(ctx, obj)
			var nsk *types.NoSuchKey
			if errors.As(err, &nsk) {
				return backoff.Permanent(err)
			}
			if err != nil {
				s.log.Warn("Artifact download failed, retrying",
					zap.String("key", obj.Key),
					zap.Error(err))
			}
			return err
		}, backoff.WithContext(s.newBackOff(), ctx))

		var nsk *types.NoSuchKey
		switch {
		case errors.As(err, &nsk):
			s.log.Warn("Artifact not found in bucket",
				zap.String("bucket", s.bucket),
				zap.String("key", obj.Key))
		case err != nil:
			return fmt.Errorf("download s3://%s/%s: %w", s.bucket, obj.Key, err)
		default:
			s.log.Info("Artifact downloaded",
				zap.String("bucket", s.bucket),
				zap.String("key", obj.Key),
				zap.String("path", obj.Path))
		}
	}
	return nil
}

// download writes the object to a temporary file next to obj.Path and renames
// it into place, so the loader never sees a partial artifact.
func (s *Syncer) download(ctx context.Context, obj Object) error {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		return err
	}
	defer output.Body.Close()

	dir := filepath.Dir(obj.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, output.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), obj.Path)
}
