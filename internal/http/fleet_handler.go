package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rgazeredo/aztv-sub002/internal/repository"
	"github.com/rgazeredo/aztv-sub002/internal/service"

	"go.uber.org/zap"
)

// FleetHandler 运营侧 API：缓存失效钩子、冲突报告、报表导出、指令下发
type FleetHandler struct {
	playerService *service.PlayerService
	reportService *service.ReportService
	logger        *zap.Logger
}

func NewFleetHandler(playerService *service.PlayerService, reportService *service.ReportService, logger *zap.Logger) *FleetHandler {
	return &FleetHandler{
		playerService: playerService,
		reportService: reportService,
		logger:        logger,
	}
}

// Invalidate 内容/排期 CRUD 变更后的缓存失效钩子
// 路径：/fleet/api/v1/invalidate/{deviceId}
func (h *FleetHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimPrefix(r.URL.Path, "/fleet/api/v1/invalidate/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err := h.playerService.Invalidate(r.Context(), deviceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusOK, Fail("device not found"))
			return
		}
		h.logger.Error("Invalidate failed",
			zap.String("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"deviceId": deviceID}))
}

// InvalidatePlaylist 播放列表级失效钩子：失效全部指派设备并推进租户版本
// 路径：/fleet/api/v1/invalidate-playlist/{playlistId}
func (h *FleetHandler) InvalidatePlaylist(w http.ResponseWriter, r *http.Request) {
	playlistID := strings.TrimPrefix(r.URL.Path, "/fleet/api/v1/invalidate-playlist/")
	if playlistID == "" || strings.Contains(playlistID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	devices, err := h.playerService.InvalidateByPlaylist(r.Context(), playlistID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusOK, Fail("playlist not found"))
			return
		}
		h.logger.Error("InvalidateByPlaylist failed",
			zap.String("playlist_id", playlistID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"playlistId": playlistID,
		"devices":    devices,
	}))
}

// Conflicts 租户排期冲突报告
func (h *FleetHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		writeJSON(w, http.StatusOK, Fail("tenantId is required"))
		return
	}

	conflicts, err := h.playerService.Conflicts(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("Conflicts failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"conflicts": conflicts,
		"total":     len(conflicts),
	}))
}

// ExportDevices 导出租户设备状态报表
func (h *FleetHandler) ExportDevices(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		writeJSON(w, http.StatusOK, Fail("tenantId is required"))
		return
	}

	excelData, err := h.reportService.GenerateFleetReport(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("GenerateFleetReport failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to generate report: %v", err)))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=fleet-devices.xlsx")
	w.WriteHeader(http.StatusOK)
	w.Write(excelData)
}

// EnqueueCommand 给设备下发指令
// idempotencyKey 相同的重复请求只入队一次，返回已存在的指令
func (h *FleetHandler) EnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var reqBody struct {
		TenantID       string          `json:"tenantId"`
		DeviceID       string          `json:"deviceId"`
		Type           string          `json:"type"`
		Parameters     json.RawMessage `json:"parameters"`
		IdempotencyKey string          `json:"idempotencyKey"`
	}
	if err := readBodyJSON(r, 1<<20, &reqBody); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid request body"))
		return
	}
	if reqBody.TenantID == "" || reqBody.DeviceID == "" || reqBody.Type == "" {
		writeJSON(w, http.StatusOK, Fail("tenantId, deviceId and type are required"))
		return
	}

	entry, err := h.playerService.EnqueueCommand(r.Context(), reqBody.TenantID, reqBody.DeviceID, reqBody.Type, reqBody.Parameters, reqBody.IdempotencyKey)
	if err != nil {
		h.logger.Error("EnqueueCommand failed",
			zap.String("device_id", reqBody.DeviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"commandId": entry.CommandID,
		"status":    entry.Status,
	}))
}
