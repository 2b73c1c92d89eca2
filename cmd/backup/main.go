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
	"go.uber.org/zap"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/storage"
)

// Nightly pg_dump of the pipeline database, gzipped and uploaded to the
// backup bucket. Older backups beyond KEEP_BACKUPS are rotated out.
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if !cfg.BackupEnabled() {
		logger.Fatal("backup bucket not configured")
	}

	logger.Info("backup started", zap.String("database", cfg.DBName))

	dump, err := dumpDatabase(cfg)
	if err != nil {
		logger.Fatal("database dump failed", zap.Error(err))
	}

	client, err := storage.NewS3Client(cfg.BackupS3Endpoint, cfg.BackupS3Region, cfg.BackupS3Key, cfg.BackupS3Secret)
	if err != nil {
		logger.Fatal("backup bucket client failed", zap.Error(err))
	}

	key := fmt.Sprintf("backup-%s.sql.gz", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	_, err = client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: aws.String(cfg.BackupS3Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(dump),
	})
	if err != nil {
		logger.Fatal("backup upload failed", zap.Error(err))
	}
	logger.Info("backup uploaded",
		zap.String("bucket", cfg.BackupS3Bucket),
		zap.String("key", key),
		zap.Int("bytes", len(dump)))

	if err := rotateBackups(client, cfg, logger); err != nil {
		logger.Fatal("backup rotation failed", zap.Error(err))
	}

	logger.Info("backup finished")
}

// dumpDatabase runs pg_dump against the configured database and gzips
// the output in memory.
func dumpDatabase(cfg *config.Config) ([]byte, error) {
	cmd := exec.Command("pg_dump",
		"-h", cfg.DBHost,
		"-p", fmt.Sprintf("%d", cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // password comes in via PGPASSWORD
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.DBPassword))

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
		return nil, fmt.Errorf("pg_dump: %w", err)
	}
	return buf.Bytes(), nil
}

// rotateBackups deletes everything older than the newest KeepBackups
// objects in the backup bucket.
func rotateBackups(client *s3.Client, cfg *config.Config, logger *zap.Logger) error {
	out, err := client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.BackupS3Bucket),
	})
	if err != nil {
		return err
	}
	if len(out.Contents) <= cfg.KeepBackups {
		logger.Info("no rotation needed", zap.Int("backups", len(out.Contents)))
		return nil
	}

	sort.Slice(out.Contents, func(i, j int) bool {
		return out.Contents[i].LastModified.After(*out.Contents[j].LastModified)
	})

	for _, obj := range out.Contents[cfg.KeepBackups:] {
		logger.Info("deleting old backup", zap.String("key", aws.ToString(obj.Key)))
		_, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.BackupS3Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			logger.Warn("delete failed", zap.String("key", aws.ToString(obj.Key)), zap.Error(err))
		}
	}
	return nil
}
