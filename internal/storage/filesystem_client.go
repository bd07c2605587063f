package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	jwtgo "github.com/golang-jwt/jwt/v4"

	"github.com/bodasure/bodasure-backend/pkg/log"
)

var (
	ErrInvalidDownloadToken = errors.New("invalid download token")
	ErrExpiredDownloadToken = errors.New("expired download token")
)

// downloadClaims is the payload of a signed download URL: the object key plus
// the standard expiry claim.
type downloadClaims struct {
	Key string `json:"key"`
	jwtgo.RegisteredClaims
}

// FilesystemClient stores objects under a local directory. Download URLs are
// signed with an HMAC token resolved back to the object by this API, so the
// directory never has to be exposed directly.
type FilesystemClient struct {
	basePath      string
	signingSecret []byte
	publicBaseURL string
}

// NewFilesystemClient creates a new FilesystemClient rooted at basePath.
// publicBaseURL is the externally reachable base of this API, used to build
// the download URLs.
func NewFilesystemClient(basePath, signingSecret, publicBaseURL string) (*FilesystemClient, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, fmt.Errorf("filesystem storage base path is empty")
	}

	if strings.TrimSpace(signingSecret) == "" {
		return nil, fmt.Errorf("url signing secret is empty")
	}

	publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if publicBaseURL == "" {
		return nil, fmt.Errorf("public base URL is empty")
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage base path %q: %w", basePath, err)
	}

	return &FilesystemClient{
		basePath:      basePath,
		signingSecret: []byte(signingSecret),
		publicBaseURL: publicBaseURL,
	}, nil
}

func (c *FilesystemClient) Put(ctx context.Context, key string, data []byte, contentType string) error {
	fullPath, err := c.resolve(key)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("creating directory for object %q: %w", key, err)
	}

	if err = os.WriteFile(fullPath, data, 0o644); err != nil {
		return fmt.Errorf("writing object %q: %w", key, err)
	}

	log.Ctx(ctx).Debugf("stored object %q under %q (%d bytes)", key, c.basePath, len(data))
	return nil
}

func (c *FilesystemClient) Get(ctx context.Context, key string) ([]byte, error) {
	fullPath, err := c.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}

	return data, nil
}

func (c *FilesystemClient) SignedURL(key string, ttl time.Duration) (string, error) {
	if _, err := c.resolve(key); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	claims := &downloadClaims{
		Key: key,
		RegisteredClaims: jwtgo.RegisteredClaims{
			ExpiresAt: jwtgo.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwtgo.NewNumericDate(time.Now()),
		},
	}

	token, err := jwtgo.NewWithClaims(jwtgo.SigningMethodHS256, claims).SignedString(c.signingSecret)
	if err != nil {
		return "", fmt.Errorf("signing download token for object %q: %w", key, err)
	}

	return fmt.Sprintf("%s/certificates/%s", c.publicBaseURL, token), nil
}

// VerifyDownloadToken resolves a signed download token back to the object key
// it was minted for. It is used by the certificate download endpoint.
func (c *FilesystemClient) VerifyDownloadToken(tokenString string) (string, error) {
	claims := &downloadClaims{}

	token, err := jwtgo.ParseWithClaims(tokenString, claims, func(t *jwtgo.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtgo.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}

		return c.signingSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwtgo.ErrTokenExpired) {
			return "", ErrExpiredDownloadToken
		}

		var vErr *jwtgo.ValidationError
		if errors.As(err, &vErr) && vErr.Errors&jwtgo.ValidationErrorExpired != 0 {
			return "", ErrExpiredDownloadToken
		}

		return "", fmt.Errorf("%w: %v", ErrInvalidDownloadToken, err)
	}

	if !token.Valid || claims.Key == "" {
		return "", ErrInvalidDownloadToken
	}

	return claims.Key, nil
}

// resolve confines key to the base path so a crafted key can never address a
// file outside of it.
func (c *FilesystemClient) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	cleaned := path.Clean("/" + key)
	if cleaned == "/" {
		return "", fmt.Errorf("key %q does not address an object", key)
	}

	return filepath.Join(c.basePath, filepath.FromSlash(cleaned)), nil
}

var _ Storage = (*FilesystemClient)(nil)
