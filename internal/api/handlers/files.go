// files.go — HTTP handlers загрузки и просмотра содержимого.
// Upload, View (JSON + base64), Content (сырые байты).
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/secureshare/internal/api/errors"
	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/service"
)

// multipartOverhead — запас на заголовки и текстовые поля multipart.
const multipartOverhead = 1 << 20

// multipartMemory — объём multipart, удерживаемый в памяти; остальное во временных файлах.
const multipartMemory = 32 << 20

// Заголовки ответа GET /api/v1/files/{handle}/content.
const (
	HeaderHandle          = "X-Secure-Share-Handle"
	HeaderFilename        = "X-Secure-Share-Filename"
	HeaderViewCount       = "X-Secure-Share-View-Count"
	HeaderCreatedAt       = "X-Secure-Share-Created-At"
	HeaderExpiresAt       = "X-Secure-Share-Expires-At"
	HeaderExpiresIn       = "X-Secure-Share-Expires-In"
	HeaderBlockScreenshot = "X-Secure-Share-Block-Screenshot"
	HeaderBlockDownload   = "X-Secure-Share-Block-Download"
	HeaderBlockCopy       = "X-Secure-Share-Block-Copy"
	HeaderWatermark       = "X-Secure-Share-Watermark"
)

// Ingester — приём содержимого.
type Ingester interface {
	Ingest(ctx context.Context, params service.IngestParams) (*model.Record, error)
	Limits() service.Limits
}

// Viewer — выдача содержимого с учётом просмотра.
type Viewer interface {
	Access(ctx context.Context, handle string) (*model.Record, []byte, error)
}

// FilesHandler — обработчик endpoints содержимого.
type FilesHandler struct {
	ingest    Ingester
	access    Viewer
	publicURL string
	now       func() time.Time
	logger    *slog.Logger
}

// NewFilesHandler создаёт обработчик endpoints содержимого.
// publicURL — базовый адрес для view_url; пустой — адрес берётся из запроса.
func NewFilesHandler(ingest Ingester, access Viewer, publicURL string, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		ingest:    ingest,
		access:    access,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
		logger:    logger.With(slog.String("component", "files_handler")),
	}
}

// policyResponse — флаги политики в JSON-ответах.
type policyResponse struct {
	BlockScreenshot bool `json:"block_screenshot"`
	BlockDownload   bool `json:"block_download"`
	BlockCopy       bool `json:"block_copy"`
	Watermark       bool `json:"watermark"`
}

// uploadResponse — ответ POST /api/v1/files.
type uploadResponse struct {
	Handle      string         `json:"handle"`
	Filename    string         `json:"filename"`
	Size        int64          `json:"size"`
	ContentType string         `json:"content_type"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ViewURL     string         `json:"view_url"`
	Policy      policyResponse `json:"policy"`
}

// viewResponse — ответ GET /api/v1/files/{handle}.
// Content кодируется encoding/json в base64.
type viewResponse struct {
	Handle      string         `json:"handle"`
	Filename    string         `json:"filename"`
	Size        int64          `json:"size"`
	ContentType string         `json:"content_type"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ExpiresIn   string         `json:"expires_in"`
	ViewCount   int64          `json:"view_count"`
	Policy      policyResponse `json:"policy"`
	Content     []byte         `json:"content"`
}

// Upload обрабатывает POST /api/v1/files.
// Multipart form: file (обязательно), expiry (секунды, опционально),
// protectScreenshot, protectDownload, protectCopy, watermark ("1"/"true").
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	limits := h.ingest.Limits()
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxContentSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.TooLarge(w, fmt.Sprintf("Размер содержимого превышает %d байт", limits.MaxContentSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	// Читаем на один байт больше лимита: превышение определяет сервис
	data, err := io.ReadAll(io.LimitReader(file, limits.MaxContentSize+1))
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения файла: %s", err.Error()))
		return
	}

	// expiry и тип проверяет сервис после размера содержимого
	rec, err := h.ingest.Ingest(r.Context(), service.IngestParams{
		Content:      data,
		OriginalName: header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Expiry:       r.FormValue("expiry"),
		Policy: model.Policy{
			BlockScreenshot: parseFlag(r.FormValue("protectScreenshot")),
			BlockDownload:   parseFlag(r.FormValue("protectDownload")),
			BlockCopy:       parseFlag(r.FormValue("protectCopy")),
			Watermark:       parseFlag(r.FormValue("watermark")),
		},
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Handle:      rec.Handle,
		Filename:    rec.OriginalName,
		Size:        rec.Size,
		ContentType: rec.ContentType,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
		ViewURL:     h.viewURL(r, rec.Handle),
		Policy:      toPolicyResponse(rec.Policy),
	})
}

// View обрабатывает GET /api/v1/files/{handle}.
// Засчитывает просмотр и возвращает метаданные вместе с содержимым.
func (h *FilesHandler) View(w http.ResponseWriter, r *http.Request) {
	rec, data, err := h.access.Access(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, viewResponse{
		Handle:      rec.Handle,
		Filename:    rec.OriginalName,
		Size:        rec.Size,
		ContentType: rec.ContentType,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
		ExpiresIn:   service.ExpiresIn(rec.ExpiresAt.Sub(h.now())),
		ViewCount:   rec.ViewCount,
		Policy:      toPolicyResponse(rec.Policy),
		Content:     data,
	})
}

// Content обрабатывает GET /api/v1/files/{handle}/content.
// Засчитывает просмотр и отдаёт содержимое как есть; метаданные — в заголовках.
// При BlockDownload содержимое отдаётся inline, иначе как вложение.
func (h *FilesHandler) Content(w http.ResponseWriter, r *http.Request) {
	rec, data, err := h.access.Access(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	disposition := "attachment"
	if rec.Policy.BlockDownload {
		disposition = "inline"
	}
	if cd := mime.FormatMediaType(disposition, map[string]string{"filename": rec.OriginalName}); cd != "" {
		disposition = cd
	}

	hdr := w.Header()
	hdr.Set("Content-Type", rec.ContentType)
	hdr.Set("Content-Length", strconv.Itoa(len(data)))
	hdr.Set("Content-Disposition", disposition)
	hdr.Set("Cache-Control", "no-store")
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set(HeaderHandle, rec.Handle)
	hdr.Set(HeaderFilename, url.PathEscape(rec.OriginalName))
	hdr.Set(HeaderViewCount, strconv.FormatInt(rec.ViewCount, 10))
	hdr.Set(HeaderCreatedAt, rec.CreatedAt.UTC().Format(time.RFC3339))
	hdr.Set(HeaderExpiresAt, rec.ExpiresAt.UTC().Format(time.RFC3339))
	hdr.Set(HeaderExpiresIn, service.ExpiresIn(rec.ExpiresAt.Sub(h.now())))
	hdr.Set(HeaderBlockScreenshot, strconv.FormatBool(rec.Policy.BlockScreenshot))
	hdr.Set(HeaderBlockDownload, strconv.FormatBool(rec.Policy.BlockDownload))
	hdr.Set(HeaderBlockCopy, strconv.FormatBool(rec.Policy.BlockCopy))
	hdr.Set(HeaderWatermark, strconv.FormatBool(rec.Policy.Watermark))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("Клиент прервал получение содержимого",
			slog.String("handle", rec.Handle),
			slog.String("error", err.Error()),
		)
	}
}

// viewURL формирует ссылку на просмотр объекта.
func (h *FilesHandler) viewURL(r *http.Request, handle string) string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/api/v1/files/" + handle
}

// parseFlag интерпретирует флаг формы: "1" и "true" — включён.
func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on":
		return true
	}
	return false
}

func toPolicyResponse(p model.Policy) policyResponse {
	return policyResponse{
		BlockScreenshot: p.BlockScreenshot,
		BlockDownload:   p.BlockDownload,
		BlockCopy:       p.BlockCopy,
		Watermark:       p.Watermark,
	}
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
// Kind совпадает с кодом ошибки API.
func writeServiceError(w http.ResponseWriter, err error) {
	message := "Ошибка хранилища"
	var se *service.Error
	if errors.As(err, &se) {
		message = se.Message
	}
	apierrors.Write(w, string(service.KindOf(err)), message)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
