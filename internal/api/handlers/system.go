// system.go — обработчик GET /api/v1/info (информация о сервисе).
// Публичный endpoint для service discovery и мониторинга.
package handlers

import (
	"net/http"

	"github.com/bigkaa/secureshare/internal/config"
	"github.com/bigkaa/secureshare/internal/service"
)

// DiskUsageFunc возвращает total, used, available в байтах.
type DiskUsageFunc func() (total, used, available int64, err error)

// SystemInfo — статические сведения о развёртывании.
type SystemInfo struct {
	InstanceID      string
	RegistryBackend string
	ContentBackend  string
	CacheEnabled    bool
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	info      SystemInfo
	limits    service.Limits
	diskUsage DiskUsageFunc
}

// NewSystemHandler создаёт обработчик системных endpoints.
// diskUsage может быть nil (например, для S3).
func NewSystemHandler(info SystemInfo, limits service.Limits, diskUsage DiskUsageFunc) *SystemHandler {
	return &SystemHandler{
		info:      info,
		limits:    limits,
		diskUsage: diskUsage,
	}
}

type limitsInfo struct {
	MaxContentSize      int64    `json:"max_content_size"`
	DefaultTTLSeconds   int64    `json:"default_ttl_seconds"`
	AllowedContentTypes []string `json:"allowed_content_types"`
}

type capacityInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

type infoResponse struct {
	InstanceID      string        `json:"instance_id"`
	Version         string        `json:"version"`
	RegistryBackend string        `json:"registry_backend"`
	ContentBackend  string        `json:"content_backend"`
	CacheEnabled    bool          `json:"cache_enabled"`
	Limits          limitsInfo    `json:"limits"`
	Capacity        *capacityInfo `json:"capacity,omitempty"`
}

// GetInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	allowed := h.limits.AllowedContentTypes
	if allowed == nil {
		allowed = []string{}
	}

	resp := infoResponse{
		InstanceID:      h.info.InstanceID,
		Version:         config.Version,
		RegistryBackend: h.info.RegistryBackend,
		ContentBackend:  h.info.ContentBackend,
		CacheEnabled:    h.info.CacheEnabled,
		Limits: limitsInfo{
			MaxContentSize:      h.limits.MaxContentSize,
			DefaultTTLSeconds:   int64(h.limits.DefaultTTL.Seconds()),
			AllowedContentTypes: allowed,
		},
	}

	// Ошибка statfs не делает endpoint недоступным: ёмкость просто не выводится
	if h.diskUsage != nil {
		if total, used, available, err := h.diskUsage(); err == nil {
			resp.Capacity = &capacityInfo{
				TotalBytes:     total,
				UsedBytes:      used,
				AvailableBytes: available,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
