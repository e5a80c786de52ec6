package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/teledrive/internal/domain/model"
	"github.com/bigkaa/teledrive/internal/storage/index"
	"github.com/bigkaa/teledrive/internal/telegram"
)

// fakeFetcher — тестовый BlobFetcher.
type fakeFetcher struct {
	data      []byte
	err       error
	callCount int
}

func (f *fakeFetcher) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

// fakeRedeliverer — тестовый Redeliverer.
type fakeRedeliverer struct {
	err       error
	gotFileID string
	gotCap    string
}

func (f *fakeRedeliverer) Redeliver(identity, fileID, caption string) error {
	f.gotFileID = fileID
	f.gotCap = caption
	return f.err
}

// newTestIndex создаёт индекс с одной записью для identity 12345.
func newTestIndex(t *testing.T) *index.Index {
	t.Helper()
	idx := index.New(t.TempDir(), testLogger())
	idx.Append("12345", &model.FileRecord{
		ID:         "tg-file-1",
		Name:       "photo.jpg",
		Size:       3,
		UploadedAt: time.Now().UTC(),
		MessageID:  7,
	})
	return idx
}

// TestFetch проверяет проксирование байт файла.
func TestFetch(t *testing.T) {
	idx := newTestIndex(t)
	fetcher := &fakeFetcher{data: []byte("abc")}
	svc := NewDownloadService(idx, fetcher, &fakeRedeliverer{}, testLogger())

	data, rec, err := svc.Fetch(context.Background(), "12345", "tg-file-1")
	if err != nil {
		t.Fatalf("Fetch вернул ошибку: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("ожидалось содержимое abc, получено %q", string(data))
	}
	if rec.Name != "photo.jpg" {
		t.Errorf("ожидалась запись photo.jpg, получено %s", rec.Name)
	}
}

// TestFetchFromBin проверяет, что файл из корзины всё ещё скачивается.
func TestFetchFromBin(t *testing.T) {
	idx := newTestIndex(t)
	if err := idx.SoftDelete("12345", "tg-file-1", time.Now()); err != nil {
		t.Fatalf("SoftDelete вернул ошибку: %v", err)
	}

	fetcher := &fakeFetcher{data: []byte("abc")}
	svc := NewDownloadService(idx, fetcher, &fakeRedeliverer{}, testLogger())

	if _, _, err := svc.Fetch(context.Background(), "12345", "tg-file-1"); err != nil {
		t.Errorf("файл из корзины должен скачиваться: %v", err)
	}
}

// TestFetchNotFound проверяет отсутствующую запись.
func TestFetchNotFound(t *testing.T) {
	idx := newTestIndex(t)
	fetcher := &fakeFetcher{data: []byte("abc")}
	svc := NewDownloadService(idx, fetcher, &fakeRedeliverer{}, testLogger())

	_, _, err := svc.Fetch(context.Background(), "12345", "nope")
	if !errors.Is(err, index.ErrNotFound) {
		t.Fatalf("ожидался index.ErrNotFound, получено %v", err)
	}
	if fetcher.callCount != 0 {
		t.Error("fetcher не должен вызываться для неизвестной записи")
	}
}

// TestFetchBackendError проверяет проброс ошибки telegram.
func TestFetchBackendError(t *testing.T) {
	idx := newTestIndex(t)
	fetcher := &fakeFetcher{err: telegram.ErrNotFound}
	svc := NewDownloadService(idx, fetcher, &fakeRedeliverer{}, testLogger())

	_, _, err := svc.Fetch(context.Background(), "12345", "tg-file-1")
	if !errors.Is(err, telegram.ErrNotFound) {
		t.Fatalf("ожидался telegram.ErrNotFound, получено %v", err)
	}
}

// TestRedeliver проверяет повторную доставку файла в чат.
func TestRedeliver(t *testing.T) {
	idx := newTestIndex(t)
	redeliverer := &fakeRedeliverer{}
	svc := NewDownloadService(idx, &fakeFetcher{}, redeliverer, testLogger())

	rec, err := svc.Redeliver("12345", "tg-file-1")
	if err != nil {
		t.Fatalf("Redeliver вернул ошибку: %v", err)
	}
	if rec.Name != "photo.jpg" {
		t.Errorf("ожидалась запись photo.jpg, получено %s", rec.Name)
	}
	if redeliverer.gotFileID != "tg-file-1" {
		t.Errorf("доставлен неверный file_id: %s", redeliverer.gotFileID)
	}
	if !strings.Contains(redeliverer.gotCap, "photo.jpg") {
		t.Errorf("подпись не содержит имени файла: %q", redeliverer.gotCap)
	}
}

// TestRedeliverNotFound проверяет доставку неизвестного файла.
func TestRedeliverNotFound(t *testing.T) {
	idx := newTestIndex(t)
	svc := NewDownloadService(idx, &fakeFetcher{}, &fakeRedeliverer{}, testLogger())

	if _, err := svc.Redeliver("12345", "nope"); !errors.Is(err, index.ErrNotFound) {
		t.Fatalf("ожидался index.ErrNotFound, получено %v", err)
	}
}
