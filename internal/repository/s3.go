package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures the S3 gateway. Any S3-compatible endpoint works.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBase is the URL prefix the bucket is served under
	PublicBase string
}

// S3Gateway stores artifacts as artifacts/<id>/index.html plus metadata.json.
type S3Gateway struct {
	client     *minio.Client
	bucket     string
	region     string
	publicBase string
	now        func() time.Time

	// ready is set once the bucket is known to exist; failures are retried.
	mu    sync.Mutex
	ready bool
}

// NewS3Gateway validates the config and creates the client. No request is made
// until the first Store.
func NewS3Gateway(cfg S3Config) (*S3Gateway, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Gateway{client: client, bucket: bucket, region: region, publicBase: cfg.PublicBase, now: time.Now}, nil
}

func (g *S3Gateway) ensureBucket(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return nil
	}
	exists, err := g.client.BucketExists(ctx, g.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := g.client.MakeBucket(ctx, g.bucket, minio.MakeBucketOptions{Region: g.region}); err != nil {
			return err
		}
	}
	g.ready = true
	return nil
}

// Store puts the body and the metadata document. PutObject overwrites, so a
// retry with the same id is an upsert.
func (g *S3Gateway) Store(ctx context.Context, a Artifact) (Location, error) {
	if err := checkArtifact(a); err != nil {
		return Location{}, err
	}
	if err := g.ensureBucket(ctx); err != nil {
		return Location{}, fmt.Errorf("ensure bucket: %w", err)
	}

	a.Metadata.ArtifactID = a.ID
	if a.Metadata.StoredAt.IsZero() {
		a.Metadata.StoredAt = g.now().UTC()
	}
	meta, err := json.MarshalIndent(a.Metadata, "", "  ")
	if err != nil {
		return Location{}, fmt.Errorf("marshal metadata: %w", err)
	}

	bodyKey := objectKey(a.ID, BodyFile)
	if err := g.put(ctx, bodyKey, a.Body, "text/html; charset=utf-8"); err != nil {
		return Location{}, fmt.Errorf("put %s: %w", bodyKey, err)
	}
	metaKey := objectKey(a.ID, MetadataJSONFile)
	if err := g.put(ctx, metaKey, meta, "application/json"); err != nil {
		return Location{}, fmt.Errorf("put %s: %w", metaKey, err)
	}

	loc := Location{
		Locator:   "s3://" + g.bucket + "/" + bodyKey,
		PublicURL: publicURL(g.publicBase, bodyKey),
	}
	slog.Info("Artifact stored", "artifact_id", a.ID, "session_id", a.Metadata.SessionID, "bytes", len(a.Body), "locator", loc.Locator)
	return loc, nil
}

func (g *S3Gateway) put(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := g.client.PutObject(ctx, g.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func objectKey(id, name string) string {
	return "artifacts/" + strings.TrimSpace(id) + "/" + strings.TrimLeft(name, "/")
}
