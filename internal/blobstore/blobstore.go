// Пакет blobstore — хранилище загруженных документов работников.
// Возвращает непрозрачный локатор; содержимое файлов сервис не читает.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata — сведения о загружаемом файле.
type Metadata struct {
	// Filename — исходное имя файла
	Filename string
	// ContentType — MIME-тип из multipart-заголовка
	ContentType string
	// TenantID — компания; файлы разных компаний хранятся раздельно
	TenantID string
	// UploadedBy — sub загрузившего пользователя
	UploadedBy string
}

// Object — результат сохранения.
type Object struct {
	// Locator — непрозрачная ссылка (file://… или gs://…)
	Locator string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// Store — внешнее хранилище файлов.
type Store interface {
	// Store записывает содержимое r и возвращает локатор.
	Store(ctx context.Context, r io.Reader, meta Metadata) (Object, error)
}

// objectName формирует путь объекта: {tenant}/{name}_{user}_{timestamp}_{uuid}.{ext}
// Пример: acme/passport_admin_20260221150405_a1b2c3d4.pdf
func objectName(meta Metadata, now time.Time) string {
	ext := filepath.Ext(meta.Filename)
	name := strings.TrimSuffix(filepath.Base(meta.Filename), ext)

	name = sanitize(name)
	user := sanitize(meta.UploadedBy)
	tenant := sanitize(meta.TenantID)

	// Ограничиваем длину имени для предотвращения проблем с FS
	name = truncateRunes(name, 50)
	user = truncateRunes(user, 20)
	ext = sanitizeExt(ext)

	ts := now.UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s/%s_%s_%s_%s%s", tenant, name, user, ts, uid, ext)
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

// sanitizeExt оставляет расширение, только если оно безопасно.
func sanitizeExt(ext string) string {
	if ext == "" || len(ext) > 10 {
		return ""
	}
	body := strings.TrimPrefix(ext, ".")
	if sanitize(body) != body {
		return ""
	}
	return ext
}

// truncateRunes обрезает строку до n символов, не разрывая UTF-8.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
