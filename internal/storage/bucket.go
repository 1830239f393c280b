// Package storage is a filesystem blob bucket whose objects are served back
// over HTTP under a public base URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"braillescan/internal/pkg/jwtutil"
)

var ErrInvalidKey = errors.New("invalid blob key")

type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type Options struct {
	Root          string
	PublicBaseURL string
	// SigningSecret turns on signed URLs; empty means plain public URLs.
	SigningSecret string
	SignedURLTTL  time.Duration
}

type Bucket struct {
	root          string
	publicBaseURL string
	signingSecret string
	signedURLTTL  time.Duration
}

func NewBucket(opt Options) (*Bucket, error) {
	if err := os.MkdirAll(opt.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root failed: %w", err)
	}
	ttl := opt.SignedURLTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Bucket{
		root:          opt.Root,
		publicBaseURL: strings.TrimRight(opt.PublicBaseURL, "/"),
		signingSecret: opt.SigningSecret,
		signedURLTTL:  ttl,
	}, nil
}

// Upload writes data under key and returns its public reference.
func (b *Bucket) Upload(ctx context.Context, key string, data []byte) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := b.Path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir failed: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create blob temp file failed: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write blob failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("close blob failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("commit blob failed: %w", err)
	}

	publicURL, err := b.PublicURL(key)
	if err != nil {
		return nil, err
	}
	return &Object{
		Key:         key,
		URL:         publicURL,
		ContentType: mimetype.Detect(data).String(),
		Size:        int64(len(data)),
	}, nil
}

// PublicURL builds the download URL for key, signed when a secret is set.
func (b *Bucket) PublicURL(key string) (string, error) {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := b.publicBaseURL + "/" + strings.Join(segments, "/")
	if b.signingSecret == "" {
		return u, nil
	}
	token, err := jwtutil.GenerateToken(b.signingSecret, b.signedURLTTL, key)
	if err != nil {
		return "", err
	}
	return u + "?token=" + url.QueryEscape(token), nil
}

// Path maps key to a file under the bucket root, rejecting keys that escape it.
func (b *Bucket) Path(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || !filepath.IsLocal(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

// ContentType sniffs the stored object's MIME type.
func (b *Bucket) ContentType(key string) (string, error) {
	path, err := b.Path(key)
	if err != nil {
		return "", err
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect blob content type failed: %w", err)
	}
	return mt.String(), nil
}

func (b *Bucket) SigningSecret() string {
	return b.signingSecret
}
