package objstore

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

// s3API is the subset of the S3 client used here, extracted so tests can run
// without AWS credentials.
type s3API interface {
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type S3 struct {
	client s3API
}

func NewS3(client *s3.Client) *S3 {
	return &S3{client: client}
}

// copySource builds the x-amz-copy-source value, bucket/key with the key
// path-escaped per segment.
func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segs, "/")
}

func (s *S3) Copy(ctx context.Context, in CopyInput) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(in.Bucket),
		Key:               aws.String(in.Key),
		CopySource:        aws.String(copySource(in.SrcBucket, in.SrcKey)),
		Metadata:          in.Metadata,
		MetadataDirective: s3types.MetadataDirectiveReplace,
	})
	if err != nil {
		return xerrors.Wrapf(err, "copy s3://%s/%s to s3://%s/%s", in.SrcBucket, in.SrcKey, in.Bucket, in.Key)
	}
	return nil
}

func (s *S3) List(ctx context.Context, bucket, prefix string, max int32) (ListResult, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(max),
	}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return ListResult{}, xerrors.Wrapf(err, "list s3://%s/%s", bucket, prefix)
	}

	res := ListResult{
		Objects:   make([]Object, 0, len(out.Contents)),
		Truncated: aws.ToBool(out.IsTruncated),
	}
	for _, o := range out.Contents {
		res.Objects = append(res.Objects, Object{
			Key:          aws.ToString(o.Key),
			Size:         aws.ToInt64(o.Size),
			LastModified: aws.ToTime(o.LastModified),
			ETag:         strings.Trim(aws.ToString(o.ETag), `"`),
		})
	}
	return res, nil
}

func (s *S3) PutEmpty(ctx context.Context, bucket, key string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", bucket, key)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return xerrors.Wrapf(err, "delete s3://%s/%s", bucket, key)
	}
	return nil
}

// CheckBucket is a readiness probe: HeadBucket fails when the bucket is
// missing or the credentials cannot reach it.
func (s *S3) CheckBucket(ctx context.Context, bucket string) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return xerrors.Wrapf(err, "head bucket %s", bucket)
	}
	return nil
}

// ErrorCode returns the S3 API error code in err's chain, e.g. "NoSuchKey",
// or "" for transport and non-API errors.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
