// filestore.go — хранение документов на локальном диске.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// filePrefix — схема локаторов файлового хранилища.
const filePrefix = "file://"

// FileStore — хранилище документов в директории на диске.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (LF_BLOB_DIR)
	dataDir string
}

// NewFileStore создаёт FileStore. Создаёт директорию, если она не существует.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Store записывает данные с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Store(ctx context.Context, r io.Reader, meta Metadata) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	name := objectName(meta, time.Now())
	fullPath := filepath.Join(fs.dataDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return Object{}, fmt.Errorf("ошибка создания директории компании: %w", err)
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return Object{}, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(&ctxReader{ctx: ctx, r: r}, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return Object{}, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return Object{}, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return Object{}, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return Object{}, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return Object{
		Locator:  filePrefix + name,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// ctxReader прерывает копирование при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
