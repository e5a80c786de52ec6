// Пакет tmpstore — временный буфер загружаемых файлов на диске.
//
// Multipart-поток сначала сохраняется в uploads-директорию, затем путь
// передаётся Telegram-клиенту. Временный файл удаляется до завершения
// обработчика независимо от исхода передачи.
package tmpstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store — буфер загрузок в заданной директории.
type Store struct {
	dir string
}

// SpoolFile — сохранённый во временный буфер файл.
type SpoolFile struct {
	// Path — абсолютный путь к временному файлу
	Path string
	// Size — размер записанных данных в байтах
	Size int64
}

// New создаёт Store. Директория создаётся при отсутствии.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию буфера %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Save записывает поток во временный файл. Имя: {unix_ms}-{uuid}{ext},
// расширение берётся из оригинального имени. При ошибке записи файл
// удаляется.
func (s *Store) Save(r io.Reader, originalName string) (*SpoolFile, error) {
	name := fmt.Sprintf("%d-%s%s",
		time.Now().UnixMilli(),
		uuid.New().String(),
		filepath.Ext(originalName),
	)
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return &SpoolFile{Path: path, Size: size}, nil
}

// Remove удаляет временный файл. Отсутствие файла — не ошибка.
func (s *Store) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления временного файла %s: %w", path, err)
	}
	return nil
}
