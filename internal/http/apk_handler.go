package httpapi

import (
	"net/http"

	"github.com/rgazeredo/aztv-sub002/internal/service"

	"go.uber.org/zap"
)

// ApkHandler 播放端安装包升级检查
type ApkHandler struct {
	updateService *service.UpdateService
	logger        *zap.Logger
}

func NewApkHandler(updateService *service.UpdateService, logger *zap.Logger) *ApkHandler {
	return &ApkHandler{
		updateService: updateService,
		logger:        logger,
	}
}

// CheckUpdate 版本检查
// 上游发布源不可用时返回"无更新"而不是错误，设备继续正常播放
func (h *ApkHandler) CheckUpdate(w http.ResponseWriter, r *http.Request) {
	currentVersion := r.URL.Query().Get("currentVersion")
	if currentVersion == "" {
		writeJSON(w, http.StatusOK, Fail("currentVersion is required"))
		return
	}

	check := h.updateService.CheckUpdate(r.Context(), currentVersion)
	writeJSON(w, http.StatusOK, Ok(check))
}
