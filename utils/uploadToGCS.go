package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const (
	evidenceUploadTTL = 15 * time.Minute
	evidenceReadTTL   = 30 * time.Minute
)

var allowedEvidenceTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC; GCS_CREDENTIALS_JSON is for local runs.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// GCSFileStore hands out signed upload targets for evidence photos and
// resolves stored image references to fetchable URLs.
type GCSFileStore struct {
	Bucket string
	client *storage.Client
}

func NewGCSFileStore(ctx context.Context) (*GCSFileStore, error) {
	bucket, err := gcsBucket()
	if err != nil {
		return nil, err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSFileStore{Bucket: bucket, client: client}, nil
}

func (s *GCSFileStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// UploadTarget returns a signed PUT target and the opaque reference to submit with the evidence.
func (s *GCSFileStore) UploadTarget(ctx context.Context, farmerId int, contentType string) (*SignedUpload, error) {
	ext, ok := allowedEvidenceTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
	objectKey := EvidenceObjectKey(farmerId, uuid.NewString()+ext)
	return SignUpload(ctx, objectKey, contentType, evidenceUploadTTL)
}

// ResolveURL returns a signed GET URL for imageRef, or ErrorImageNotFound
// when the reference is unusable or the object does not exist.
func (s *GCSFileStore) ResolveURL(ctx context.Context, imageRef string) (string, error) {
	objectKey := ExtractObjectKeyFromURL(imageRef)
	if objectKey == "" {
		return "", ErrorImageNotFound
	}
	if _, err := s.client.Bucket(s.Bucket).Object(objectKey).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", ErrorImageNotFound
		}
		return "", err
	}
	return SignRead(ctx, objectKey, evidenceReadTTL)
}

func EvidenceObjectKey(farmerId int, filename string) string {
	return path.Join("evidence", fmt.Sprint(farmerId), filename)
}
