package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tommh/minimba-project/config"
)

// Archive mirrors downloaded certificate PDFs to an S3-compatible
// bucket so the local directory can be pruned.
type Archive struct {
	client *s3.Client
	bucket string
	url    string
}

// NewS3Client builds a client for an S3-compatible endpoint with
// static credentials. Both the PDF archive and the database backup
// buckets go through here.
func NewS3Client(endpoint, region, key, secret string) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               endpoint,
				SigningRegion:     region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}

// NewArchive creates the S3 archive client. Returns nil when the
// archive settings are not configured.
func NewArchive(cfg *config.Config) (*Archive, error) {
	if !cfg.ArchiveEnabled() {
		return nil, nil
	}
	client, err := NewS3Client(cfg.S3URL, cfg.S3Region, cfg.S3Key, cfg.S3Secret)
	if err != nil {
		return nil, err
	}
	return &Archive{client: client, bucket: cfg.S3Bucket, url: cfg.S3URL}, nil
}

// UploadFile stores one local file under its base name in the bucket.
func (a *Archive) UploadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	key := filepath.Base(path)
	_, err = a.client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   f,
	})
	return err
}

// Link returns the public URL of an archived file.
func (a *Archive) Link(filename string) string {
	return fmt.Sprintf("%s/%s/%s", a.url, a.bucket, filename)
}
