package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Get when no object exists under the
// requested key.
var ErrObjectNotFound = errors.New("object not found")

// Storage persists generated documents (policy certificates) and hands out
// time-limited download URLs for them.
//
//go:generate mockery --name=Storage --case=underscore --structname=MockStorage --filename=storage.go
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	SignedURL(key string, ttl time.Duration) (string, error)
}

type StorageType string

const (
	// StorageTypeS3 stores objects in an AWS S3 bucket and signs download
	// URLs with S3 presigning.
	StorageTypeS3 StorageType = "S3"
	// StorageTypeFilesystem stores objects under a local directory and signs
	// download URLs with an HMAC token served by this API.
	StorageTypeFilesystem StorageType = "FILESYSTEM"
)

func (st StorageType) All() []StorageType {
	return []StorageType{StorageTypeS3, StorageTypeFilesystem}
}

func ParseStorageType(storageTypeStr string) (StorageType, error) {
	storageTypeStrUpper := strings.ToUpper(storageTypeStr)
	sType := StorageType(storageTypeStrUpper)

	if slices.Contains(StorageType("").All(), sType) {
		return sType, nil
	}

	return "", fmt.Errorf("invalid storage type %q", storageTypeStrUpper)
}

type StorageOptions struct {
	// AWS S3
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRegion          string
	S3Bucket           string

	// Filesystem
	FilesystemBasePath string
	URLSigningSecret   string
	PublicFilesBaseURL string
}

// GetStorage instantiates the storage backend selected by storageType.
func GetStorage(storageType StorageType, opts StorageOptions) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return NewS3Client(opts.AWSAccessKeyID, opts.AWSSecretAccessKey, opts.AWSRegion, opts.S3Bucket)
	case StorageTypeFilesystem:
		return NewFilesystemClient(opts.FilesystemBasePath, opts.URLSigningSecret, opts.PublicFilesBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage type: %q", storageType)
	}
}
