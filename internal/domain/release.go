package domain

// Release APK 发布信息（来自发布源）
type Release struct {
	Version     string `json:"version"`
	DownloadURL string `json:"download_url"`
	ForceUpdate bool   `json:"force_update"`
	MinVersion  string `json:"min_version,omitempty"` // 低于该版本强制升级
}

// UpdateCheck 升级检查结果（下发给设备）
type UpdateCheck struct {
	UpdateAvailable bool   `json:"updateAvailable"`
	LatestVersion   string `json:"latestVersion,omitempty"`
	DownloadURL     string `json:"downloadUrl,omitempty"`
	ForceUpdate     bool   `json:"forceUpdate,omitempty"`
}
