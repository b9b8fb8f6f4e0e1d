// Package s3 implements a filesystem provider over an S3 bucket prefix.
// Directories are inferred from key delimiters, the way the S3 console
// presents folders.
package s3

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/slatefs/slatefs/internal/metrics"
	"github.com/slatefs/slatefs/pkg/vfs"
)

// Config holds S3 provider configuration.
type Config struct {
	Endpoint  string // empty for AWS proper
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
}

// Provider serves a bucket prefix as a read-only namespace. It satisfies
// vfs.Provider and vfs.StatProvider.
type Provider struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates a provider from cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Provider{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// key maps an absolute filesystem path to an object key under the
// configured prefix.
func (p *Provider) key(path string) string {
	return p.prefix + strings.Trim(path, "/")
}

// ReadDirectory lists the immediate children of path.
func (p *Provider) ReadDirectory(ctx context.Context, path string, extendData any) (entries []vfs.DirEntry, err error) {
	start := time.Now()
	defer func() { metrics.RecordProviderRequest("dir", err, time.Since(start)) }()

	dirPrefix := p.key(path)
	if dirPrefix != "" && !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(dirPrefix),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, err)
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), dirPrefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, vfs.DirEntry{
				Name:       name,
				Type:       vfs.EntryDirectory,
				ExtendData: strings.TrimSuffix(aws.ToString(cp.Prefix), "/"),
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, dirPrefix)
			// Skip the folder placeholder object some tools create.
			if name == "" {
				continue
			}
			entries = append(entries, vfs.DirEntry{
				Name:       name,
				Type:       vfs.EntryFile,
				ExtendData: key,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ReadFile fetches an object's full content.
func (p *Provider) ReadFile(ctx context.Context, path string, extendData any) (data []byte, err error) {
	start := time.Now()
	defer func() { metrics.RecordProviderRequest("file", err, time.Since(start)) }()

	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(path, extendData)),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// Stat fetches an object's size without its content.
func (p *Provider) Stat(ctx context.Context, path string, extendData any) (res vfs.StatResult, err error) {
	start := time.Now()
	defer func() { metrics.RecordProviderRequest("stat", err, time.Since(start)) }()

	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(path, extendData)),
	})
	if err != nil {
		return vfs.StatResult{}, fmt.Errorf("head object %s: %w", path, err)
	}
	return vfs.StatResult{Size: aws.ToInt64(out.ContentLength)}, nil
}

// objectKey prefers the exact key recorded at listing time over a key
// recomputed from the path.
func (p *Provider) objectKey(path string, extendData any) string {
	if key, ok := extendData.(string); ok && key != "" {
		return key
	}
	return p.key(path)
}
