package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"tilestream.ai/internal/persistence/r2s3"
)

// buildArchiveMirror returns nil when TS_R2_MIRROR is off. When on, closed
// discovery log segments are uploaded and rotation switches to one-minute
// segments so the bucket lags the server by at most a minute.
func buildArchiveMirror(dataDir string, logger *log.Logger) (*r2s3.Mirror, string, error) {
	if !envBool("TS_R2_MIRROR", false) {
		return nil, "", nil
	}
	creds := r2s3.Credentials{
		Endpoint:        os.Getenv("TS_R2_ENDPOINT"),
		Bucket:          os.Getenv("TS_R2_BUCKET"),
		AccessKeyID:     os.Getenv("TS_R2_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("TS_R2_SECRET_ACCESS_KEY"),
	}
	client, err := r2s3.New(creds)
	if err != nil {
		return nil, "", fmt.Errorf("TS_R2_MIRROR=true: %w", err)
	}
	m := r2s3.NewMirror(client, r2s3.MirrorOptions{
		DataDir:       dataDir,
		Prefix:        strings.TrimSpace(os.Getenv("TS_R2_PREFIX")),
		Workers:       envInt("TS_R2_UPLOAD_WORKERS", 2),
		QueueCapacity: envInt("TS_R2_QUEUE_CAPACITY", 2048),
		EnqueueWait:   time.Duration(envInt("TS_R2_ENQUEUE_WAIT_MS", 25)) * time.Millisecond,
		Logger:        logger,
	})
	return m, "2006-01-02-15-04", nil
}
