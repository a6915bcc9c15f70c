// Package archive copies every persisted document into an S3-compatible
// bucket as a timestamped snapshot.
package archive

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"missioncontrol/internal/model"
)

const (
	snapshotPrefix = "snapshots/"
	keyLayout      = "20060102T150405.000Z"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	// Transport overrides the HTTP transport. Tests use it to fake S3.
	Transport http.RoundTripper
}

type Archiver struct {
	client *minio.Client
	bucket string
	now    func() time.Time
	suffix func() string
}

func New(cfg Config) (*Archiver, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("archive endpoint and bucket are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
		Transport:    cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Archiver{client: client, bucket: cfg.Bucket, now: time.Now, suffix: randomSuffix}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Key names the snapshot object for doc. Documents are keyed by their
// lastUpdated stamp, falling back to the archive time, plus a random suffix
// so snapshots stamped in the same millisecond do not overwrite each other.
func (a *Archiver) Key(doc model.AppState) string {
	at := a.now().UTC()
	if doc.LastUpdated != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, doc.LastUpdated); err == nil {
			at = parsed.UTC()
		}
	}
	return snapshotPrefix + at.Format(keyLayout) + "-" + a.suffix() + ".json"
}

func randomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Archive uploads doc and returns the object key.
func (a *Archiver) Archive(ctx context.Context, doc model.AppState) (string, error) {
	payload, err := model.Encode(doc)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := a.Key(doc)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"updated-by": doc.LastUpdatedBy,
			"version":    doc.Version,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return key, nil
}

// Persist has the signature of a state persist hook. Failures are logged.
func (a *Archiver) Persist(ctx context.Context, doc model.AppState) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := a.Archive(ctx, doc); err != nil {
		log.Printf("archive: %v", err)
	}
}
