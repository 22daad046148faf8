// Package s3 transfers external data files to AWS S3. The external-files
// manifests can feed any transfer mechanism; this is the built-in one for
// packs whose array data should land in object storage instead of being
// copied next to the documents.
package s3

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/tacaswell/databroker-pack/pkg/errors"
	"github.com/tacaswell/databroker-pack/pkg/pack"
)

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Bucket is the destination bucket name
	Bucket string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UploadTimeout bounds each object upload.
	UploadTimeout time.Duration

	// Concurrency is the number of parallel object uploads.
	Concurrency int
}

// DefaultConfig returns sensible defaults for S3 configuration.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:        bucket,
		Region:        region,
		UploadTimeout: 5 * time.Minute,
		Concurrency:   5,
	}
}

// Client provides S3 transfer operations.
type Client struct {
	cfg    Config
	client *s3.Client
}

// NewClient creates a new S3 client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUploadFailed, "failed to load AWS config")
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Client{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// Bucket returns the destination bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// UploadExternalFiles uploads every file under root to
// s3://bucket/RootHash(root)/<path relative to root> and returns that
// prefix URL as the root's new location for the catalog root map. Uploads
// within one root run concurrently; run export itself stays sequential.
func (c *Client) UploadExternalFiles(ctx context.Context, root string, files []string, progress pack.Progress) (string, error) {
	if progress == nil {
		progress = pack.NopProgress{}
	}
	prefix := pack.RootHash(root)

	progress.Start(len(files), "Uploading external files")
	defer progress.Finish()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, file := range files {
		rel, err := filepath.Rel(root, file)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", errors.New(errors.CodeUploadFailed, "file is not under its root").
				WithContext("root", root).
				WithContext("file", file)
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		file := file
		g.Go(func() error {
			if err := c.putFile(ctx, key, file); err != nil {
				return err
			}
			progress.Advance()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return "s3://" + c.cfg.Bucket + "/" + prefix, nil
}

func (c *Client) putFile(ctx context.Context, key, file string) error {
	if c.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.UploadTimeout)
		defer cancel()
	}
	f, err := os.Open(file)
	if err != nil {
		return errors.Wrap(err, errors.CodeUploadFailed, "failed to open external file").
			WithContext("file", file)
	}
	defer f.Close()

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeUploadFailed, "failed to upload external file").
			WithContext("file", file).
			WithContext("key", key)
	}
	return nil
}
