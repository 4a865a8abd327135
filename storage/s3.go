package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"paper-extract/config"
)

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Speicher unter cfg.S3URL.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	if !cfg.S3Enabled() {
		return nil, fmt.Errorf("s3 is not configured, set S3_URL, S3_KEY, S3_SECRET and S3_BUCKET")
	}
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3URL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// UploadFile lädt data unter key hoch und gibt den Link zurück.
func UploadFile(ctx context.Context, client *s3.Client, cfg *config.Config, key, contentType string, data []byte) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(cfg.S3Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return ObjectURL(cfg, key), nil
}

// ObjectURL baut den Link auf ein Objekt im konfigurierten Bucket.
func ObjectURL(cfg *config.Config, key string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(cfg.S3URL, "/"), cfg.S3Bucket, key)
}
