// Пакет index — потокобезопасный индекс метаданных файлов пользователей.
//
// Индекс хранит отображение identity (Telegram ID) → упорядоченный список
// записей о файлах. In-memory копия является источником истины между
// снапшотами; персистентность — целиковый JSON-документ userFiles.json,
// перезаписываемый атомарно (temp → fsync → rename).
//
// Порядок записей — порядок загрузки; restore порядок не меняет.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bigkaa/teledrive/internal/domain/model"
)

// SnapshotFilename — имя файла снапшота в директории данных.
const SnapshotFilename = "userFiles.json"

// Ошибки индекса.
var (
	// ErrNotFound — пользователь или файл не найден.
	ErrNotFound = errors.New("запись не найдена")
	// ErrActiveRecord — операция недопустима для активной (не удалённой) записи.
	ErrActiveRecord = errors.New("запись не находится в корзине")
)

// Index — потокобезопасный индекс метаданных.
// Использует sync.RWMutex: весь индекс — общее изменяемое состояние процесса,
// один mutex заменяет кооперативную однопоточность оригинала.
type Index struct {
	mu     sync.RWMutex
	saveMu sync.Mutex                     // сериализует записи снапшота: temp файл один на индекс
	users  map[string][]*model.FileRecord // identity → записи в порядке загрузки
	path   string                         // путь к файлу снапшота
	logger *slog.Logger
}

// New создаёт пустой индекс. Снапшот будет записываться в dataDir/userFiles.json.
func New(dataDir string, logger *slog.Logger) *Index {
	return &Index{
		users:  make(map[string][]*model.FileRecord),
		path:   filepath.Join(dataDir, SnapshotFilename),
		logger: logger.With(slog.String("component", "index")),
	}
}

// Load читает снапшот с диска и заменяет содержимое индекса.
// Отсутствие файла — не ошибка: индекс остаётся пустым (первый запуск).
func (idx *Index) Load() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	data, err := os.ReadFile(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			idx.logger.Info("Снапшот не найден, индекс пуст", slog.String("path", idx.path))
			return nil
		}
		return fmt.Errorf("ошибка чтения снапшота %s: %w", idx.path, err)
	}

	users := make(map[string][]*model.FileRecord)
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("ошибка десериализации снапшота %s: %w", idx.path, err)
	}

	// Старые снапшоты могут содержать записи в корзине без deletedAt.
	// Проставляем момент загрузки, чтобы корзина всегда отдавала дату.
	now := time.Now()
	for _, list := range users {
		for _, rec := range list {
			if rec.IsDeleted && rec.DeletedAt == nil {
				t := now
				rec.DeletedAt = &t
			}
		}
	}

	idx.users = users

	idx.logger.Info("Снапшот индекса загружен",
		slog.Int("users", len(users)),
		slog.String("path", idx.path),
	)
	return nil
}

// Save атомарно записывает весь индекс на диск.
// Паттерн: JSON → temp файл → fsync → atomic rename (как в attr.json).
// Вызовы сериализуются: Save приходит одновременно из обработчиков корзины,
// периодического снапшота и shutdown, а temp файл у индекса один.
func (idx *Index) Save() error {
	idx.saveMu.Lock()
	defer idx.saveMu.Unlock()

	idx.mu.RLock()
	data, err := json.MarshalIndent(idx.users, "", "  ")
	idx.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("ошибка сериализации индекса: %w", err)
	}

	dir := filepath.Dir(idx.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	// Temp файл уникален на каждый вызов: даже при гонке двух процессов
	// rename публикует целиковую сериализацию, а не перемешанные байты.
	f, err := os.CreateTemp(dir, SnapshotFilename+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, idx.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// EnsureAccount создаёт пустой список для identity, если его ещё нет.
// Вызывается после успешного обмена кода подтверждения.
func (idx *Index) EnsureAccount(identity string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.users[identity]; !ok {
		idx.users[identity] = []*model.FileRecord{}
	}
}

// Append добавляет запись в конец списка identity, создавая список при
// отсутствии. Дедупликация по имени не выполняется: единственный инвариант
// уникальности — ID записи.
func (idx *Index) Append(identity string, rec *model.FileRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	copied := *rec
	idx.users[identity] = append(idx.users[identity], &copied)
}

// ListActive возвращает все не удалённые записи identity в порядке списка.
// Для неизвестного identity возвращает пустой срез (не ошибку) и неявно
// создаёт пустой список.
func (idx *Index) ListActive(identity string) []*model.FileRecord {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.users[identity]; !ok {
		idx.users[identity] = []*model.FileRecord{}
	}

	result := make([]*model.FileRecord, 0, len(idx.users[identity]))
	for _, rec := range idx.users[identity] {
		if rec.IsDeleted {
			continue
		}
		copied := *rec
		result = append(result, &copied)
	}
	return result
}

// ListDeleted возвращает все записи identity, находящиеся в корзине.
// Для неизвестного identity возвращает пустой срез без создания списка.
func (idx *Index) ListDeleted(identity string) []*model.FileRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := make([]*model.FileRecord, 0)
	for _, rec := range idx.users[identity] {
		if !rec.IsDeleted {
			continue
		}
		copied := *rec
		result = append(result, &copied)
	}
	return result
}

// Find возвращает копию записи по (identity, fileID) независимо от того,
// находится ли она в корзине. Возвращает ErrNotFound, если записи нет.
func (idx *Index) Find(identity, fileID string) (*model.FileRecord, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rec := idx.locate(identity, fileID)
	if rec == nil {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

// SoftDelete перемещает запись в корзину: isDeleted = true, deletedAt = now.
// Возвращает ErrNotFound, если identity или запись отсутствуют.
func (idx *Index) SoftDelete(identity, fileID string, now time.Time) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec := idx.locate(identity, fileID)
	if rec == nil {
		return ErrNotFound
	}
	rec.MarkDeleted(now)
	return nil
}

// Restore возвращает запись из корзины: isDeleted = false, deletedAt снимается.
// Идемпотентен для уже активной записи. Возвращает ErrNotFound, если
// identity или запись отсутствуют.
func (idx *Index) Restore(identity, fileID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec := idx.locate(identity, fileID)
	if rec == nil {
		return ErrNotFound
	}
	rec.Restore()
	return nil
}

// PurgeOne безвозвратно удаляет запись из списка.
// Допустим только для записей в корзине: для активной записи возвращает
// ErrActiveRecord (purge никогда не уничтожает активную запись).
func (idx *Index) PurgeOne(identity, fileID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	list, ok := idx.users[identity]
	if !ok {
		return ErrNotFound
	}

	for i, rec := range list {
		if rec.ID != fileID {
			continue
		}
		if !rec.IsDeleted {
			return ErrActiveRecord
		}
		idx.users[identity] = append(list[:i], list[i+1:]...)
		return nil
	}
	return ErrNotFound
}

// PurgeAllDeleted удаляет из списка identity все записи, находящиеся в
// корзине. Идемпотентен: при пустой корзине ничего не меняет. Возвращает
// количество удалённых записей и ErrNotFound для неизвестного identity.
func (idx *Index) PurgeAllDeleted(identity string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	list, ok := idx.users[identity]
	if !ok {
		return 0, ErrNotFound
	}

	kept := list[:0]
	purged := 0
	for _, rec := range list {
		if rec.IsDeleted {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	idx.users[identity] = kept
	return purged, nil
}

// Accounts возвращает количество пользователей в индексе.
func (idx *Index) Accounts() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.users)
}

// Count возвращает общее количество записей в индексе (включая корзину).
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	total := 0
	for _, list := range idx.users {
		total += len(list)
	}
	return total
}

// locate возвращает указатель на запись внутри списка identity.
// Вызывающий обязан держать mutex.
func (idx *Index) locate(identity, fileID string) *model.FileRecord {
	for _, rec := range idx.users[identity] {
		if rec.ID == fileID {
			return rec
		}
	}
	return nil
}
