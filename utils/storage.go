package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// UploadArtifact copies a run artifact (report csv, diagnostics) into the
// configured GCS bucket. Without ARTIFACT_BUCKET set the upload is skipped,
// keeping local and dry runs dependency free.
func UploadArtifact(ctx context.Context, localPath string) error {
	bucket := strings.TrimSpace(os.Getenv("ARTIFACT_BUCKET"))
	if bucket == "" {
		return nil
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	object := fmt.Sprintf("preorder-reports/%s/%s",
		time.Now().UTC().Format("2006/01"), filepath.Base(localPath))
	return UploadObject(ctx, bucket, object, data)
}

// UploadObject writes data to gs://bucket/object.
func UploadObject(ctx context.Context, bucket, object string, data []byte) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}
