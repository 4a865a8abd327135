// backup sichert die Paper-Datenbank per pg_dump gzip-komprimiert in einen S3-Bucket
// und behält nur die letzten KEEP_BACKUPS Sicherungen.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"paper-extract/config"
	"paper-extract/storage"
)

type BackupConfig struct {
	DBHost      string `envconfig:"DB_HOST" default:"localhost"`
	DBPort      int    `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USER" default:"root"`
	DBPassword  string `envconfig:"DB_PASSWORD" default:"changeit"`
	DBName      string `envconfig:"DB_NAME" default:"staging"`
	Bucket      string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	Endpoint    string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	AccessKey   string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	SecretKey   string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	Region      string `envconfig:"BACKUP_S3_REGION" default:"us-east-1"`
	KeepBackups int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

// s3Config übersetzt die Backup-Einstellungen in die gemeinsame S3-Konfiguration.
func (c BackupConfig) s3Config() *config.Config {
	return &config.Config{
		S3URL:    c.Endpoint,
		S3Key:    c.AccessKey,
		S3Secret: c.SecretKey,
		S3Region: c.Region,
		S3Bucket: c.Bucket,
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	logging.Info("Starting backup")
	_ = godotenv.Load()
	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	ctx := context.Background()
	dump, err := createDump(ctx, cfg)
	if err != nil {
		logging.Fatal("Failed to create database dump", zap.Error(err))
	}

	s3cfg := cfg.s3Config()
	client, err := storage.NewS3Client(ctx, s3cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}

	key := backupKey(time.Now())
	link, err := storage.UploadFile(ctx, client, s3cfg, key, "application/gzip", dump)
	if err != nil {
		logging.Fatal("Backup upload failed", zap.Error(err))
	}
	logging.Info("Backup uploaded", zap.String("link", link), zap.Int("bytes", len(dump)))

	if err := rotateBackups(ctx, client, cfg, logging); err != nil {
		logging.Fatal("Backup rotation failed", zap.Error(err))
	}
	logging.Info("Backup finished")
}

func backupKey(now time.Time) string {
	return fmt.Sprintf("backup-%s.sql.gz", now.UTC().Format("2006-01-02T15-04-05Z"))
}

func createDump(ctx context.Context, cfg BackupConfig) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", cfg.DBHost,
		"-p", fmt.Sprint(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // Passwort kommt über PGPASSWORD
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+cfg.DBPassword)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, stdout); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// staleBackups liefert alle Objekte außer den keep neuesten.
func staleBackups(objects []types.Object, keep int) []types.Object {
	if len(objects) <= keep {
		return nil
	}
	sorted := make([]types.Object, len(objects))
	copy(sorted, objects)
	sort.Slice(sorted, func(i, j int) bool {
		return aws.ToTime(sorted[i].LastModified).After(aws.ToTime(sorted[j].LastModified))
	})
	return sorted[keep:]
}

func rotateBackups(ctx context.Context, client *s3.Client, cfg BackupConfig, logging *zap.Logger) error {
	output, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.Bucket),
		Prefix: aws.String("backup-"),
	})
	if err != nil {
		return err
	}

	stale := staleBackups(output.Contents, cfg.KeepBackups)
	if len(stale) == 0 {
		logging.Info("No rotation needed", zap.Int("backups", len(output.Contents)), zap.Int("keep", cfg.KeepBackups))
		return nil
	}
	for _, obj := range stale {
		key := aws.ToString(obj.Key)
		logging.Info("Deleting old backup", zap.String("key", key))
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.Bucket),
			Key:    obj.Key,
		}); err != nil {
			logging.Error("Failed to delete old backup", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}
