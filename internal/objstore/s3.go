package objstore

import (
	"context"
	"io"
	"strings"

	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Store implements ObjectStore against an S3 (or S3-compatible) bucket.
// It is adapted from the teacher's cloud/aws and cloud/common packages,
// which wrapped a vfs.File to mirror every Create/Remove/Rename onto S3;
// here the same client call shapes (s3manager.Uploader.Upload,
// s3.S3.DeleteObject, s3.S3.ListObjectsV2) are retargeted directly onto
// ObjectStore's content-addressed keys instead of file-close hooks.
type S3Store struct {
	bucket string
	prefix string
	s3     *s3.S3
	up     *s3manager.Uploader
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket string
	Prefix string
	Region string
}

// NewS3Store builds an S3Store over a fresh AWS session.
func NewS3Store(opts S3Options) (*S3Store, error) {
	sess, err := session.NewSession(&awssdk.Config{Region: awssdk.String(opts.Region)})
	if err != nil {
		return nil, err
	}
	return &S3Store{
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		s3:     s3.New(sess),
		up:     s3manager.NewUploader(sess),
	}, nil
}

func (s *S3Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	_, err := s.up.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(s.key(key)),
		Body:   r,
	})
	return err
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(s.key(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(s.key(key)),
	})
	return err
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	fullPrefix := s.key(prefix)
	err := s.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: awssdk.String(s.bucket),
		Prefix: awssdk.String(fullPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			k := awssdk.StringValue(obj.Key)
			if s.prefix != "" {
				k = strings.TrimPrefix(k, s.prefix+"/")
			}
			keys = append(keys, k)
		}
		return true
	})
	return keys, err
}

func (s *S3Store) Stat(ctx context.Context, key string) (int64, error) {
	out, err := s.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(s.key(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return awssdk.Int64Value(out.ContentLength), nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), s3.ErrCodeNoSuchKey) ||
		strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "404")
}
