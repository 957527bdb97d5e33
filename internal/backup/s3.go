package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gameforge/gfops/internal/config"
)

// S3API is the slice of the S3 client the uploader needs; the SDK
// client satisfies it and tests substitute a fake.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Uploader pushes backup sets to S3 with SSE-S3 at rest.
type Uploader struct {
	api    S3API
	bucket string
	prefix string
}

// NewUploader builds an uploader from the backup S3 config using the
// default AWS credential chain. Returns nil when no bucket is set.
func NewUploader(ctx context.Context, cfg config.S3Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS configuration: %w", err)
	}

	return &Uploader{api: s3.NewFromConfig(awsCfg), bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// NewUploaderWithAPI wires a caller-supplied client, used by tests.
func NewUploaderWithAPI(api S3API, bucket, prefix string) *Uploader {
	return &Uploader{api: api, bucket: bucket, prefix: prefix}
}

// Bucket returns the target bucket name.
func (u *Uploader) Bucket() string { return u.bucket }

// objectKey builds <prefix>/<env>/<timestamp>/<file>.
func (u *Uploader) objectKey(environment, timestamp, file string) string {
	return path.Join(u.prefix, environment, timestamp, file)
}

// Upload puts one local file and verifies the stored content length.
func (u *Uploader) Upload(ctx context.Context, environment, timestamp, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(localPath), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(localPath), err)
	}

	key := u.objectKey(environment, timestamp, filepath.Base(localPath))
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(u.bucket),
		Key:                  aws.String(key),
		Body:                 f,
		ContentLength:        aws.Int64(info.Size()),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", u.bucket, key, err)
	}

	head, err := u.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(u.bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("verify s3://%s/%s: %w", u.bucket, key, err)
	}
	if aws.ToInt64(head.ContentLength) != info.Size() {
		return fmt.Errorf("verify s3://%s/%s: stored %d bytes, expected %d",
			u.bucket, key, aws.ToInt64(head.ContentLength), info.Size())
	}
	return nil
}

// RemoteSet is one backup set found in S3.
type RemoteSet struct {
	Timestamp string
	Files     int
	SizeBytes int64
}

// ListSets lists the backup sets stored for an environment.
func (u *Uploader) ListSets(ctx context.Context, environment string) ([]RemoteSet, error) {
	prefix := path.Join(u.prefix, environment) + "/"
	sets := map[string]*RemoteSet{}

	var continuation *string
	for {
		out, err := u.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(u.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", u.bucket, prefix, err)
		}

		for _, object := range out.Contents {
			if object.Key == nil {
				continue
			}
			rest := strings.TrimPrefix(*object.Key, prefix)
			timestamp, _, found := strings.Cut(rest, "/")
			if !found {
				continue
			}
			set := sets[timestamp]
			if set == nil {
				set = &RemoteSet{Timestamp: timestamp}
				sets[timestamp] = set
			}
			set.Files++
			set.SizeBytes += aws.ToInt64(object.Size)
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}

	result := make([]RemoteSet, 0, len(sets))
	for _, set := range sets {
		result = append(result, *set)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp < result[j].Timestamp })
	return result, nil
}

// PruneBefore deletes every object of sets whose timestamp is older
// than cutoff. Returns the deleted set timestamps.
func (u *Uploader) PruneBefore(ctx context.Context, environment string, cutoff time.Time, dryRun bool) ([]string, error) {
	sets, err := u.ListSets(ctx, environment)
	if err != nil {
		return nil, err
	}

	var pruned []string
	for _, set := range sets {
		created, err := time.Parse(setTimestampLayout, set.Timestamp)
		if err != nil {
			continue // foreign object under the prefix, leave it alone
		}
		if !created.Before(cutoff) {
			continue
		}
		if !dryRun {
			if err := u.deleteSet(ctx, environment, set.Timestamp); err != nil {
				return pruned, err
			}
		}
		pruned = append(pruned, set.Timestamp)
	}
	return pruned, nil
}

func (u *Uploader) deleteSet(ctx context.Context, environment, timestamp string) error {
	prefix := path.Join(u.prefix, environment, timestamp) + "/"
	out, err := u.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(u.bucket), Prefix: aws.String(prefix)})
	if err != nil {
		return fmt.Errorf("list s3://%s/%s: %w", u.bucket, prefix, err)
	}
	for _, object := range out.Contents {
		if object.Key == nil {
			continue
		}
		if _, err := u.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(u.bucket), Key: object.Key}); err != nil {
			return fmt.Errorf("delete s3://%s/%s: %w", u.bucket, *object.Key, err)
		}
	}
	return nil
}
