package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterPlayerRoutes 设备侧路由（authenticate 外都要求设备会话头）
func (r *Router) RegisterPlayerRoutes(p *PlayerHandler) {
	r.Handle("/player/api/v1/authenticate", requireMethod(http.MethodPost, p.Authenticate))
	r.Handle("/player/api/v1/heartbeat", requireMethod(http.MethodPost, p.Heartbeat))
	r.Handle("/player/api/v1/playlists", requireMethod(http.MethodGet, p.Playlists))
	r.Handle("/player/api/v1/sync-delta", requireMethod(http.MethodGet, p.SyncDelta))
	r.Handle("/player/api/v1/commands/confirm", requireMethod(http.MethodPost, p.ConfirmCommand))
	r.Handle("/player/api/v1/report-error", requireMethod(http.MethodPost, p.ReportError))
}

// RegisterApkRoutes 安装包升级检查
func (r *Router) RegisterApkRoutes(a *ApkHandler) {
	r.Handle("/apk/api/v1/check-update", requireMethod(http.MethodGet, a.CheckUpdate))
}

// RegisterFleetRoutes 运营侧路由（部署在内网，网关层做访问控制）
func (r *Router) RegisterFleetRoutes(f *FleetHandler) {
	r.Handle("/fleet/api/v1/invalidate/", requireMethod(http.MethodPost, f.Invalidate))
	r.Handle("/fleet/api/v1/invalidate-playlist/", requireMethod(http.MethodPost, f.InvalidatePlaylist))
	r.Handle("/fleet/api/v1/conflicts", requireMethod(http.MethodGet, f.Conflicts))
	r.Handle("/fleet/api/v1/report/devices", requireMethod(http.MethodGet, f.ExportDevices))
	r.Handle("/fleet/api/v1/commands", requireMethod(http.MethodPost, f.EnqueueCommand))
}
