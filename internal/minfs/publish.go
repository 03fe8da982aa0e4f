package minfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client wraps the S3 client for an S3-compatible image bucket.
type S3Client struct {
	Client     *s3.Client
	BucketName string
}

// NewS3Client initializes a client from the MINFS_S3_* settings.
func NewS3Client(ctx context.Context, s *Settings) (*S3Client, error) {
	if s.S3Bucket == "" || s.S3AccessKey == "" || s.S3SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials missing in configuration (MINFS_S3_BUCKET, MINFS_S3_ACCESS_KEY_ID, MINFS_S3_SECRET_ACCESS_KEY)")
	}

	options := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.S3AccessKey, s.S3SecretKey, "")),
		config.WithRegion(s.S3Region),
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(s.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{Client: client, BucketName: s.S3Bucket}, nil
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(key, ".b3"), strings.HasSuffix(key, ".manifest"):
		return "text/plain"
	}
	return "application/octet-stream"
}

// UploadLocalFile uploads a file from disk.
func (c *S3Client) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	return err
}

// S3Object represents metadata for an object in the bucket.
type S3Object struct {
	Key  string
	Size int64
}

// ListObjects returns the objects in the bucket with the given prefix.
func (c *S3Client) ListObjects(ctx context.Context, prefix string) ([]S3Object, error) {
	var objects []S3Object
	paginator := s3.NewListObjectsV2Paginator(c.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.BucketName),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, S3Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

// publishFiles returns the files that accompany image in the bucket: the
// image itself, its checksum and, when present, its tree manifest.
func publishFiles(image string) ([]string, error) {
	if _, err := os.Stat(image); err != nil {
		return nil, err
	}
	if err := VerifyImageChecksum(image); err != nil {
		return nil, err
	}
	files := []string{image, image + ".b3"}
	if fileExists(image + ".manifest") {
		files = append(files, image+".manifest")
	}
	return files, nil
}

// Publish verifies image against its checksum and uploads it with its sidecars.
func (c *S3Client) Publish(ctx context.Context, image string) error {
	files, err := publishFiles(image)
	if err != nil {
		return err
	}
	for _, f := range files {
		key := filepath.Base(f)
		colArrow.Print("-> ")
		colSuccess.Printf("Uploading %s to s3://%s/%s\n", filepath.Base(f), c.BucketName, key)
		if err := c.UploadLocalFile(ctx, key, f); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}
	return nil
}
