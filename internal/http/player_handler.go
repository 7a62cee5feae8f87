package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/auth"
	"github.com/rgazeredo/aztv-sub002/internal/domain"
	"github.com/rgazeredo/aztv-sub002/internal/heartbeat"
	"github.com/rgazeredo/aztv-sub002/internal/service"

	"go.uber.org/zap"
)

// PlayerHandler 设备侧 API
type PlayerHandler struct {
	playerService *service.PlayerService
	updateService *service.UpdateService
	logger        *zap.Logger
}

func NewPlayerHandler(playerService *service.PlayerService, updateService *service.UpdateService, logger *zap.Logger) *PlayerHandler {
	return &PlayerHandler{
		playerService: playerService,
		updateService: updateService,
		logger:        logger,
	}
}

// requireDevice 校验 X-Device-ID / X-API-Token 请求头
// 校验失败写 401 + code 60401，播放端据此重新走激活认证；
// 校验本身无副作用，不产生任何状态变更
func (h *PlayerHandler) requireDevice(w http.ResponseWriter, r *http.Request) (*domain.Device, bool) {
	deviceID := r.Header.Get("X-Device-ID")
	token := r.Header.Get("X-API-Token")

	device, err := h.playerService.ValidateSession(r.Context(), deviceID, token)
	if err != nil {
		if errors.Is(err, auth.ErrAuthFailed) || errors.Is(err, auth.ErrInvalidToken) {
			writeJSON(w, http.StatusUnauthorized, SessionExpired("session expired"))
			return nil, false
		}
		h.logger.Error("ValidateSession failed",
			zap.String("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return nil, false
	}
	return device, true
}

// Authenticate 激活令牌换发会话 token
func (h *PlayerHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var reqBody struct {
		ActivationToken string `json:"activationToken"`
		AppVersion      string `json:"appVersion"`
	}
	if err := readBodyJSON(r, 1<<20, &reqBody); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid request body"))
		return
	}

	result, err := h.playerService.Authenticate(r.Context(), reqBody.ActivationToken, getClientIP(r), reqBody.AppVersion)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			// 不区分"令牌不存在"和"设备已删除"，避免探测
			writeJSON(w, http.StatusUnauthorized, SessionExpired("invalid activation token"))
			return
		}
		h.logger.Error("Authenticate failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"deviceId":   result.Device.DeviceID,
		"deviceName": result.Device.Name,
		"token":      result.Bearer,
		"settings":   result.Settings,
	}))
}

// Heartbeat 心跳上报：返回服务端时间、待执行指令和播放列表更新标记
func (h *PlayerHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	device, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	var reqBody struct {
		Status       string          `json:"status"`
		CurrentMedia *string         `json:"currentMedia"`
		SystemInfo   json.RawMessage `json:"systemInfo"`
		AppVersion   string          `json:"appVersion"`
	}
	if err := readBodyJSON(r, 1<<20, &reqBody); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid request body"))
		return
	}

	result, err := h.playerService.Heartbeat(r.Context(), device, heartbeat.Report{
		Status:       reqBody.Status,
		CurrentMedia: reqBody.CurrentMedia,
		SystemInfo:   reqBody.SystemInfo,
		IPAddress:    getClientIP(r),
		AppVersion:   reqBody.AppVersion,
	})
	if err != nil {
		h.logger.Error("Heartbeat failed",
			zap.String("device_id", device.DeviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}

	commands := make([]map[string]any, 0, len(result.Commands))
	for _, cmd := range result.Commands {
		commands = append(commands, map[string]any{
			"commandId":  cmd.CommandID,
			"type":       cmd.Type,
			"parameters": cmd.Parameters,
		})
	}

	// 升级检查捎带在心跳里（发布信息有短缓存，不会每跳打一次源站）
	appVersion := reqBody.AppVersion
	if appVersion == "" && device.AppVersion != nil {
		appVersion = *device.AppVersion
	}
	check := h.updateService.CheckUpdate(r.Context(), appVersion)

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"serverTime":         result.ServerTime.UTC().Format(time.RFC3339),
		"commands":           commands,
		"playlistsUpdated":   result.PlaylistsUpdated,
		"appUpdateAvailable": check.UpdateAvailable,
	}))
}

// Playlists 设备全部指派播放列表的快照 + 当前活动选择
func (h *PlayerHandler) Playlists(w http.ResponseWriter, r *http.Request) {
	device, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	result, err := h.playerService.Playlists(r.Context(), device)
	if err != nil {
		h.logger.Error("Playlists failed",
			zap.String("device_id", device.DeviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}

	selection, fromCache, err := h.playerService.ActivePlaylist(r.Context(), device)
	if err != nil {
		h.logger.Error("ActivePlaylist failed",
			zap.String("device_id", device.DeviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"playlists":      result.Snapshots,
		"activePlaylist": selection, // null = 当前无活动排期，合法状态
		"fromCache":      fromCache, // 活动选择是否命中缓存（快照总是直读库）
		"lastUpdated":    result.LastUpdated.UTC().Format(time.RFC3339),
	}))
}

// SyncDelta 增量同步：lastSync 缺失或格式非法按首次同步处理（全量）
func (h *PlayerHandler) SyncDelta(w http.ResponseWriter, r *http.Request) {
	device, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	var clientLastSync *time.Time
	if raw := r.URL.Query().Get("lastSync"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			utc := t.UTC()
			clientLastSync = &utc
		} else {
			h.logger.Warn("Malformed lastSync, forcing full sync",
				zap.String("device_id", device.DeviceID), zap.String("last_sync", raw))
		}
	}

	result, fromCache, err := h.playerService.SyncDelta(r.Context(), device, clientLastSync)
	if err != nil {
		h.logger.Error("SyncDelta failed",
			zap.String("device_id", device.DeviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"full":            result.Full,
		"changes":         result.Changes,
		"serverTimestamp": result.ServerTimestamp.UTC().Format(time.RFC3339),
		"cached":          fromCache,
	}))
}

// ConfirmCommand 设备回执指令执行结果
// 未知 commandId 按成功处理（指令可能已被 GC），重复回执幂等
func (h *PlayerHandler) ConfirmCommand(w http.ResponseWriter, r *http.Request) {
	device, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	var reqBody struct {
		CommandID string  `json:"commandId"`
		Status    string  `json:"status"`
		Message   *string `json:"message"`
	}
	if err := readBodyJSON(r, 1<<20, &reqBody); err != nil || reqBody.CommandID == "" {
		writeJSON(w, http.StatusOK, Fail("invalid request body"))
		return
	}
	if reqBody.Status != "executed" && reqBody.Status != "failed" {
		writeJSON(w, http.StatusOK, Fail("status must be executed or failed"))
		return
	}

	if err := h.playerService.ConfirmCommand(r.Context(), device, reqBody.CommandID, reqBody.Status, reqBody.Message); err != nil {
		h.logger.Error("ConfirmCommand failed",
			zap.String("device_id", device.DeviceID),
			zap.String("command_id", reqBody.CommandID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"commandId": reqBody.CommandID}))
}

// ReportError 设备上报错误：active/offline -> error
func (h *PlayerHandler) ReportError(w http.ResponseWriter, r *http.Request) {
	device, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	if err := h.playerService.ReportError(r.Context(), device); err != nil {
		h.logger.Error("ReportError failed",
			zap.String("device_id", device.DeviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}
