// gcs.go — хранение документов в Google Cloud Storage.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// gcsPrefix — схема локаторов GCS.
const gcsPrefix = "gs://"

// GCSStore — хранилище документов в бакете GCS.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	logger *slog.Logger
}

// NewGCSStore создаёт клиент GCS с учётными данными по умолчанию (ADC).
func NewGCSStore(ctx context.Context, bucket string, logger *slog.Logger) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента GCS: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		logger: logger.With(slog.String("component", "gcs_store")),
	}, nil
}

// Store записывает объект с условием DoesNotExist.
// Имя объекта содержит UUID, поэтому конфликт означает повторную запись того же объекта.
func (s *GCSStore) Store(ctx context.Context, r io.Reader, meta Metadata) (Object, error) {
	name := objectName(meta, time.Now())

	w := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = meta.ContentType
	w.Metadata = map[string]string{
		"tenant_id":   meta.TenantID,
		"uploaded_by": meta.UploadedBy,
		"filename":    meta.Filename,
	}

	hasher := sha256.New()
	size, err := io.Copy(w, io.TeeReader(r, hasher))
	if err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("ошибка записи объекта %s в GCS: %w", name, err)
	}

	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			s.logger.Warn("Объект уже существует", slog.String("object", name))
			return Object{}, fmt.Errorf("объект %s уже существует: %w", name, err)
		}
		return Object{}, fmt.Errorf("ошибка завершения записи %s в GCS: %w", name, err)
	}

	return Object{
		Locator:  gcsPrefix + s.name + "/" + name,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Close закрывает клиент GCS.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// isPreconditionFailed проверяет ответ 412 на условную запись.
func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
