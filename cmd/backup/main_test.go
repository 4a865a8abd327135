package main

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
)

func object(key string, modified time.Time) types.Object {
	return types.Object{Key: aws.String(key), LastModified: aws.Time(modified)}
}

func TestStaleBackups(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	objects := []types.Object{
		object("b1", base),
		object("b3", base.Add(48*time.Hour)),
		object("b2", base.Add(24*time.Hour)),
	}

	stale := staleBackups(objects, 2)
	if assert.Len(t, stale, 1) {
		assert.Equal(t, "b1", aws.ToString(stale[0].Key))
	}
	assert.Nil(t, staleBackups(objects, 3))
	assert.Len(t, staleBackups(objects, 0), 3)
}

func TestBackupKey(t *testing.T) {
	assert.Equal(t, "backup-2024-05-01T12-00-00Z.sql.gz", backupKey(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestS3Config(t *testing.T) {
	cfg := BackupConfig{Endpoint: "https://s3", AccessKey: "a", SecretKey: "s", Region: "r", Bucket: "b"}
	s3cfg := cfg.s3Config()
	assert.True(t, s3cfg.S3Enabled())
	assert.Equal(t, "r", s3cfg.S3Region)
}
