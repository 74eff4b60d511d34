package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint string
	Bucket   string
	Region   string
}

// S3Dialer opens S3 stores from static access keys.
type S3Dialer struct {
	Config        S3Config
	Timeout       time.Duration
	UploadTimeout time.Duration
}

func (d S3Dialer) Dial(_ context.Context, cred Credential) (RemoteStore, error) {
	if d.Config.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket missing", ErrNotConfigured)
	}
	if cred.AccessKeyID == "" || cred.SecretAccessKey == "" {
		return nil, fmt.Errorf("%w: s3 access keys missing", ErrNotConfigured)
	}
	return &S3Store{
		client:        newS3Client(d.Config, cred),
		bucket:        d.Config.Bucket,
		timeout:       d.Timeout,
		uploadTimeout: d.UploadTimeout,
	}, nil
}

func newS3Client(cfg S3Config, cred Credential) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cred.AccessKeyID, cred.SecretAccessKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// S3Store keeps backups under a key prefix. A folder is the prefix "name/"
// plus a zero-byte marker object with that key.
type S3Store struct {
	client        s3Client
	bucket        string
	timeout       time.Duration
	uploadTimeout time.Duration
}

func folderKey(name string) string {
	return strings.Trim(name, "/") + "/"
}

func (s *S3Store) FindFolder(ctx context.Context, name string) (string, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	key := folderKey(name)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		rerr := s3Error("find folder", err)
		if rerr.Kind == KindNotFound {
			return "", false, nil
		}
		return "", false, rerr
	}
	return key, true, nil
}

func (s *S3Store) CreateFolder(ctx context.Context, name string) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	key := folderKey(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", s3Error("create folder", err)
	}
	return key, nil
}

func (s *S3Store) Upload(ctx context.Context, folderID, name string, data []byte) (string, error) {
	ctx, cancel := withTimeout(ctx, s.uploadTimeout)
	defer cancel()

	key := folderID + name
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(dumpMimeType),
	})
	if err != nil {
		return "", s3Error("upload", err)
	}
	return key, nil
}

func (s *S3Store) ListOlderThan(ctx context.Context, folderID string, cutoff time.Time) ([]Object, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var objects []Object
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(folderID),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s3Error("list old backups", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == folderID || obj.LastModified == nil {
				continue
			}
			if obj.LastModified.Before(cutoff) {
				objects = append(objects, Object{
					ID:        key,
					Name:      strings.TrimPrefix(key, folderID),
					CreatedAt: *obj.LastModified,
				})
			}
		}
	}
	return objects, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	}); err != nil {
		return s3Error("delete", err)
	}
	return nil
}

func s3Error(op string, err error) *RemoteError {
	kind := KindOther
	var apiErr smithy.APIError
	var statusErr interface{ HTTPStatusCode() int }
	switch {
	case errors.As(err, &apiErr):
		kind = s3ErrorKind(apiErr.ErrorCode())
		if kind == KindOther && errors.As(err, &statusErr) && statusErr.HTTPStatusCode() >= 500 {
			kind = KindNetwork
		}
	case errors.As(err, &statusErr):
		switch code := statusErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			kind = KindNotFound
		case code >= 500:
			kind = KindNetwork
		}
	case isTransient(err):
		kind = KindNetwork
	}
	return &RemoteError{Kind: kind, Op: op, Err: err}
}

func s3ErrorKind(code string) Kind {
	switch code {
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken", "AccessDenied":
		return KindInvalidGrant
	case "NotFound", "NoSuchKey", "NoSuchBucket":
		return KindNotFound
	case "SlowDown", "Throttling", "ThrottlingException", "TooManyRequests", "RequestLimitExceeded":
		return KindRateLimited
	case "QuotaExceeded", "EntityTooLarge", "XMinioStorageFull":
		return KindQuotaExceeded
	case "InternalError", "ServiceUnavailable":
		return KindNetwork
	}
	return KindOther
}
