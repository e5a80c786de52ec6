package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/teledrive/internal/api/middleware"
	"github.com/bigkaa/teledrive/internal/auth"
	"github.com/bigkaa/teledrive/internal/domain/model"
	"github.com/bigkaa/teledrive/internal/service"
	"github.com/bigkaa/teledrive/internal/storage/index"
	"github.com/bigkaa/teledrive/internal/storage/tmpstore"
	"github.com/bigkaa/teledrive/internal/telegram"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeTelegram — подмена Telegram-клиента для тестов обработчиков.
// Реализует service.DocumentSender, service.BlobFetcher и service.Redeliverer.
type fakeTelegram struct {
	nextFileID  int
	blobs       map[string][]byte
	redelivered []string
	sendErr     error
}

func newFakeTelegram() *fakeTelegram {
	return &fakeTelegram{blobs: make(map[string][]byte)}
}

func (f *fakeTelegram) SendDocument(identity, path, caption string) (*telegram.BlobRef, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.nextFileID++
	fileID := fmt.Sprintf("tg-file-%d", f.nextFileID)
	f.blobs[fileID] = data
	return &telegram.BlobRef{FileID: fileID, MessageID: f.nextFileID}, nil
}

func (f *fakeTelegram) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	data, ok := f.blobs[fileID]
	if !ok {
		return nil, telegram.ErrNotFound
	}
	return data, nil
}

func (f *fakeTelegram) Redeliver(identity, fileID, caption string) error {
	f.redelivered = append(f.redelivered, fileID)
	return nil
}

// testEnv — собранный API-обработчик с зависимостями на фейковом Telegram.
type testEnv struct {
	router  *chi.Mux
	handler *APIHandler
	idx     *index.Index
	codes   *auth.Registry
	tokens  *auth.TokenManager
	tg      *fakeTelegram
}

// newTestEnv собирает полный стек обработчиков в temp-директориях.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()

	idx := index.New(t.TempDir(), logger)
	codes := auth.NewRegistry(10*time.Minute, logger)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	tg := newFakeTelegram()

	spool, err := tmpstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("tmpstore.New вернул ошибку: %v", err)
	}

	uploadSvc := service.NewUploadService(spool, tg, idx, 1024*1024, logger)
	downloadSvc := service.NewDownloadService(idx, tg, tg, logger)

	thumbSvc, err := service.NewThumbnailService(t.TempDir(), 300, time.Hour, time.Hour, logger)
	if err != nil {
		t.Fatalf("NewThumbnailService вернул ошибку: %v", err)
	}

	snapshotSvc := service.NewSnapshotService(idx, time.Minute, logger)
	health := NewHealthHandler(t.TempDir(), idx)

	h := NewAPIHandler(codes, tokens, idx, uploadSvc, downloadSvc, thumbSvc, snapshotSvc, health, 1024*1024, logger)

	router := chi.NewRouter()
	h.Routes(router)

	return &testEnv{
		router:  router,
		handler: h,
		idx:     idx,
		codes:   codes,
		tokens:  tokens,
		tg:      tg,
	}
}

// doRequest выполняет запрос через роутер и возвращает recorder.
func (e *testEnv) doRequest(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil && method == http.MethodPost && !strings.Contains(target, "upload") {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// decodeBody разбирает JSON-ответ в map.
func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("ответ не является JSON: %v\n%s", err, rr.Body.String())
	}
	return m
}

// uploadFile загружает файл через POST /api/upload и возвращает fileId.
func (e *testEnv) uploadFile(t *testing.T, identity, name, content string) string {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("telegramId", identity); err != nil {
		t.Fatalf("не удалось записать поле: %v", err)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("не удалось создать form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("не удалось записать содержимое: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("загрузка не удалась: %d %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	fileID, _ := body["fileId"].(string)
	if fileID == "" {
		t.Fatalf("ответ загрузки без fileId: %v", body)
	}
	return fileID
}

// TestVerifyFlow проверяет полный цикл привязки: выдача кода ботом,
// обмен через API, одноразовость кода.
func TestVerifyFlow(t *testing.T) {
	env := newTestEnv(t)

	code := env.codes.Issue("12345", "testuser")

	rr := env.doRequest(t, http.MethodPost, "/api/verify",
		strings.NewReader(fmt.Sprintf(`{"code":%q}`, code)))
	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получено %d: %s", rr.Code, rr.Body.String())
	}

	body := decodeBody(t, rr)
	if body["success"] != true {
		t.Error("ожидался success=true")
	}
	if body["telegramId"] != "12345" {
		t.Errorf("ожидался telegramId 12345, получено %v", body["telegramId"])
	}
	if body["username"] != "testuser" {
		t.Errorf("ожидался username testuser, получено %v", body["username"])
	}
	if token, _ := body["token"].(string); token == "" {
		t.Error("ответ без сессионного токена")
	}

	// Аккаунт создан в индексе
	if env.idx.Accounts() != 1 {
		t.Errorf("аккаунт не создан: accounts=%d", env.idx.Accounts())
	}

	// Повторный обмен того же кода — 400
	rr = env.doRequest(t, http.MethodPost, "/api/verify",
		strings.NewReader(fmt.Sprintf(`{"code":%q}`, code)))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("повторный обмен: ожидался 400, получено %d", rr.Code)
	}
}

// TestVerifyInvalidCode проверяет обмен несуществующего кода.
func TestVerifyInvalidCode(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doRequest(t, http.MethodPost, "/api/verify",
		strings.NewReader(`{"code":"000000"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("ожидался 400, получено %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Error("ожидался success=false")
	}
}

// TestUploadAndList проверяет загрузку и появление файла в списке.
func TestUploadAndList(t *testing.T) {
	env := newTestEnv(t)

	fileID := env.uploadFile(t, "12345", "doc.txt", "hello")

	rr := env.doRequest(t, http.MethodGet, "/api/files?telegramId=12345", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получено %d", rr.Code)
	}
	body := decodeBody(t, rr)
	files, _ := body["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("ожидался 1 файл, получено %d", len(files))
	}
	first, _ := files[0].(map[string]any)
	if first["id"] != fileID {
		t.Errorf("ожидался id %s, получено %v", fileID, first["id"])
	}
	if first["name"] != "doc.txt" {
		t.Errorf("ожидалось имя doc.txt, получено %v", first["name"])
	}
}

// TestUploadWithoutIdentity проверяет 400 без telegramId.
func TestUploadWithoutIdentity(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "x.txt")
	fw.Write([]byte("data"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("ожидался 400, получено %d", rr.Code)
	}
}

// TestGetFile проверяет проксирование содержимого файла.
func TestGetFile(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.uploadFile(t, "12345", "doc.txt", "proxied content")

	rr := env.doRequest(t, http.MethodGet, "/api/file/"+fileID+"?telegramId=12345", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получено %d", rr.Code)
	}
	if rr.Body.String() != "proxied content" {
		t.Errorf("содержимое не совпадает: %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("ожидался octet-stream, получено %s", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "doc.txt") {
		t.Errorf("Content-Disposition без имени файла: %s", cd)
	}
}

// TestGetFileNotFound проверяет 404 для неизвестного файла.
func TestGetFileNotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doRequest(t, http.MethodGet, "/api/file/nope?telegramId=12345", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("ожидался 404, получено %d", rr.Code)
	}
}

// TestDownloadToChat проверяет повторную доставку файла в чат.
func TestDownloadToChat(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.uploadFile(t, "12345", "doc.txt", "x")

	rr := env.doRequest(t, http.MethodGet, "/api/download/"+fileID+"?telegramId=12345", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получено %d: %s", rr.Code, rr.Body.String())
	}
	if len(env.tg.redelivered) != 1 || env.tg.redelivered[0] != fileID {
		t.Errorf("файл не доставлен в чат: %v", env.tg.redelivered)
	}
}

// TestRecycleBinLifecycle проверяет сценарий корзины целиком:
// удаление → файл в корзине с deletedAt → восстановление → очистка.
func TestRecycleBinLifecycle(t *testing.T) {
	env := newTestEnv(t)
	keepID := env.uploadFile(t, "12345", "keep.txt", "a")
	binID := env.uploadFile(t, "12345", "trash.txt", "b")

	// Мягкое удаление
	rr := env.doRequest(t, http.MethodDelete, "/api/file/"+binID+"?telegramId=12345", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("удаление: ожидался 200, получено %d", rr.Code)
	}

	// Файл исчез из активного списка
	rr = env.doRequest(t, http.MethodGet, "/api/files?telegramId=12345", nil)
	body := decodeBody(t, rr)
	files, _ := body["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("ожидался 1 активный файл, получено %d", len(files))
	}

	// Файл появился в корзине с deletedAt
	rr = env.doRequest(t, http.MethodGet, "/api/bin?telegramId=12345", nil)
	body = decodeBody(t, rr)
	binFiles, _ := body["files"].([]any)
	if len(binFiles) != 1 {
		t.Fatalf("ожидался 1 файл в корзине, получено %d", len(binFiles))
	}
	entry, _ := binFiles[0].(map[string]any)
	if entry["isDeleted"] != true {
		t.Error("запись в корзине без isDeleted")
	}
	if entry["deletedAt"] == nil {
		t.Error("запись в корзине без deletedAt")
	}

	// Восстановление
	rr = env.doRequest(t, http.MethodPost, "/api/bin/restore/"+binID+"?telegramId=12345", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("восстановление: ожидался 200, получено %d", rr.Code)
	}
	rr = env.doRequest(t, http.MethodGet, "/api/files?telegramId=12345", nil)
	body = decodeBody(t, rr)
	files, _ = body["files"].([]any)
	if len(files) != 2 {
		t.Fatalf("после восстановления ожидалось 2 файла, получено %d", len(files))
	}

	// Снова в корзину и очистка
	env.doRequest(t, http.MethodDelete, "/api/file/"+binID+"?telegramId=12345", nil)
	rr = env.doRequest(t, http.MethodDelete, "/api/bin/empty?telegramId=12345", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("очистка корзины: ожидался 200, получено %d", rr.Code)
	}

	rr = env.doRequest(t, http.MethodGet, "/api/bin?telegramId=12345", nil)
	body = decodeBody(t, rr)
	binFiles, _ = body["files"].([]any)
	if len(binFiles) != 0 {
		t.Errorf("корзина не пуста после очистки: %d", len(binFiles))
	}

	// keep.txt пережил очистку
	rr = env.doRequest(t, http.MethodGet, "/api/files?telegramId=12345", nil)
	body = decodeBody(t, rr)
	files, _ = body["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("ожидался 1 файл, получено %d", len(files))
	}
	if first, _ := files[0].(map[string]any); first["id"] != keepID {
		t.Errorf("уцелел не тот файл: %v", first["id"])
	}
}

// TestPurgeActiveFileConflict проверяет 409 при purge активной записи.
func TestPurgeActiveFileConflict(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.uploadFile(t, "12345", "doc.txt", "x")

	rr := env.doRequest(t, http.MethodDelete, "/api/bin/"+fileID+"?telegramId=12345", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("ожидался 409, получено %d", rr.Code)
	}

	// Запись не пострадала
	rr = env.doRequest(t, http.MethodGet, "/api/files?telegramId=12345", nil)
	body := decodeBody(t, rr)
	files, _ := body["files"].([]any)
	if len(files) != 1 {
		t.Errorf("активная запись потеряна: %d файлов", len(files))
	}
}

// TestPurgeOneFromBin проверяет безвозвратное удаление одной записи.
func TestPurgeOneFromBin(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.uploadFile(t, "12345", "doc.txt", "x")

	env.doRequest(t, http.MethodDelete, "/api/file/"+fileID+"?telegramId=12345", nil)
	rr := env.doRequest(t, http.MethodDelete, "/api/bin/"+fileID+"?telegramId=12345", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получено %d", rr.Code)
	}

	// Запись исчезла отовсюду
	rr = env.doRequest(t, http.MethodGet, "/api/bin?telegramId=12345", nil)
	body := decodeBody(t, rr)
	if files, _ := body["files"].([]any); len(files) != 0 {
		t.Error("запись осталась в корзине")
	}

	// Повторное удаление — 404
	rr = env.doRequest(t, http.MethodDelete, "/api/bin/"+fileID+"?telegramId=12345", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("ожидался 404, получено %d", rr.Code)
	}
}

// TestEmptyBinUnknownUser проверяет 404 для неизвестного пользователя.
func TestEmptyBinUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doRequest(t, http.MethodDelete, "/api/bin/empty?telegramId=99999", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("ожидался 404, получено %d", rr.Code)
	}
}

// TestDownloadFromBin проверяет скачивание файла, находящегося в корзине.
func TestDownloadFromBin(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.uploadFile(t, "12345", "doc.txt", "still here")

	env.doRequest(t, http.MethodDelete, "/api/file/"+fileID+"?telegramId=12345", nil)

	rr := env.doRequest(t, http.MethodGet, "/api/file/"+fileID+"?telegramId=12345", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("файл из корзины должен скачиваться: %d", rr.Code)
	}
	if rr.Body.String() != "still here" {
		t.Errorf("содержимое не совпадает: %q", rr.Body.String())
	}
}

// TestThumbnailNotImage проверяет 400 для не-изображения.
func TestThumbnailNotImage(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.uploadFile(t, "12345", "doc.pdf", "%PDF-1.4")

	rr := env.doRequest(t, http.MethodGet, "/api/thumbnail/"+fileID+"?telegramId=12345", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("ожидался 400, получено %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["message"] != "Not an image file" {
		t.Errorf("неожиданное сообщение: %v", body["message"])
	}
}

// TestThumbnailUnknownFile проверяет 404 для неизвестного файла.
func TestThumbnailUnknownFile(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doRequest(t, http.MethodGet, "/api/thumbnail/nope?telegramId=12345", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("ожидался 404, получено %d", rr.Code)
	}
}

// TestHealthEndpoints проверяет live и ready endpoints.
func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doRequest(t, http.MethodGet, "/health/live", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("live: ожидался 200, получено %d", rr.Code)
	}

	rr = env.doRequest(t, http.MethodGet, "/health/ready", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("ready: ожидался 200, получено %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" {
		t.Errorf("ожидался status ok, получено %v", body["status"])
	}
}

// TestSnapshotWrittenAfterDelete проверяет durable-now сохранение:
// после удаления перезапущенный индекс видит файл в корзине.
func TestSnapshotWrittenAfterDelete(t *testing.T) {
	logger := testLogger()
	dataDir := t.TempDir()

	idx := index.New(dataDir, logger)
	codes := auth.NewRegistry(10*time.Minute, logger)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	tg := newFakeTelegram()
	spool, err := tmpstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("tmpstore.New вернул ошибку: %v", err)
	}
	uploadSvc := service.NewUploadService(spool, tg, idx, 1024*1024, logger)
	downloadSvc := service.NewDownloadService(idx, tg, tg, logger)
	thumbSvc, err := service.NewThumbnailService(t.TempDir(), 300, time.Hour, time.Hour, logger)
	if err != nil {
		t.Fatalf("NewThumbnailService вернул ошибку: %v", err)
	}
	snapshotSvc := service.NewSnapshotService(idx, time.Minute, logger)
	h := NewAPIHandler(codes, tokens, idx, uploadSvc, downloadSvc, thumbSvc, snapshotSvc,
		NewHealthHandler(dataDir, idx), 1024*1024, logger)
	router := chi.NewRouter()
	h.Routes(router)
	env := &testEnv{router: router, idx: idx, codes: codes, tg: tg}

	fileID := env.uploadFile(t, "12345", "doc.txt", "x")
	rr := env.doRequest(t, http.MethodDelete, "/api/file/"+fileID+"?telegramId=12345", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("удаление: ожидался 200, получено %d", rr.Code)
	}

	// Индекс перезагружается с диска: удаление пережило "рестарт"
	restored := index.New(dataDir, logger)
	if err := restored.Load(); err != nil {
		t.Fatalf("Load вернул ошибку: %v", err)
	}
	rec, err := restored.Find("12345", fileID)
	if err != nil {
		t.Fatalf("запись не найдена после перезагрузки: %v", err)
	}
	if !rec.IsDeleted {
		t.Error("состояние корзины не сохранено на диск")
	}
}

// TestIdentityFromBearerToken проверяет identity из сессионного токена.
func TestIdentityFromBearerToken(t *testing.T) {
	env := newTestEnv(t)
	env.idx.Append("12345", &model.FileRecord{
		ID: "f1", Name: "a.txt", UploadedAt: time.Now().UTC(),
	})

	token, err := env.tokens.Issue("12345", "testuser")
	if err != nil {
		t.Fatalf("Issue вернул ошибку: %v", err)
	}

	// Роутер с middleware аутентификации перед маршрутами
	router := chi.NewRouter()
	router.Use(middleware.SessionAuth(env.tokens, testLogger()))
	env.handler.Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получено %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	files, _ := body["files"].([]any)
	if len(files) != 1 {
		t.Errorf("ожидался 1 файл, получено %d", len(files))
	}

	// Мусорный токен — 401
	req = httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("ожидался 401, получено %d", rr.Code)
	}
}
