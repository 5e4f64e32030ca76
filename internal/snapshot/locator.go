package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/johndauphine/airport-sync/internal/config"
	"github.com/johndauphine/airport-sync/internal/logging"
)

const s3Scheme = "s3://"

// ObjectStore is the subset of the S3 API used for remote snapshots.
type ObjectStore interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client builds an S3 client from config. Static keys are used when set,
// otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Locator resolves job source handles to local snapshot files.
// A handle is either a filesystem path or s3://bucket/key.
type Locator struct {
	dir   string
	store ObjectStore
}

// NewLocator returns a locator that downloads remote snapshots into dir.
// store may be nil when only local handles are expected.
func NewLocator(dir string, store ObjectStore) *Locator {
	return &Locator{dir: dir, store: store}
}

// IsRemote reports whether handle refers to object storage.
func IsRemote(handle string) bool {
	return strings.HasPrefix(handle, s3Scheme)
}

func splitS3(handle string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(handle, s3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 handle %q", handle)
	}
	return bucket, key, nil
}

// localPath is where a remote handle is downloaded to.
func (l *Locator) localPath(handle string) string {
	sum := sha256.Sum256([]byte(handle))
	_, key, _ := splitS3(handle)
	return filepath.Join(l.dir, "snapshot-"+hex.EncodeToString(sum[:8])+path.Ext(key))
}

// Fetch returns a local path for handle, downloading it first if remote.
// Failures are reported as *PreconditionError.
func (l *Locator) Fetch(ctx context.Context, handle string) (string, error) {
	if handle == "" {
		return "", &PreconditionError{Err: errors.New("empty snapshot handle")}
	}
	if !IsRemote(handle) {
		return handle, nil
	}
	if l.store == nil {
		return "", &PreconditionError{Path: handle, Err: errors.New("no object store configured")}
	}

	bucket, key, err := splitS3(handle)
	if err != nil {
		return "", &PreconditionError{Path: handle, Err: err}
	}

	out, err := l.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", &PreconditionError{Path: handle, Err: fmt.Errorf("downloading: %w", err)}
	}
	defer out.Body.Close()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}
	dst := l.localPath(handle)
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", dst, err)
	}
	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", &PreconditionError{Path: handle, Err: fmt.Errorf("downloading: %w", err)}
	}

	logging.Debug("Downloaded %s (%d bytes) to %s", handle, n, dst)
	return dst, nil
}

// Remove deletes the snapshot behind handle: the local file, the downloaded
// copy and the remote object as applicable. Missing files are not an error.
func (l *Locator) Remove(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if !IsRemote(handle) {
		if err := os.Remove(handle); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing snapshot: %w", err)
		}
		return nil
	}

	var errs []error
	if err := os.Remove(l.localPath(handle)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("removing local copy: %w", err))
	}
	if l.store != nil {
		bucket, key, err := splitS3(handle)
		if err != nil {
			errs = append(errs, err)
		} else if _, err := l.store.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", handle, err))
		}
	}
	return errors.Join(errs...)
}
