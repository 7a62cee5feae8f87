package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rgazeredo/aztv-sub002/internal/repository"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// FleetReportHeader 设备状态导出表头
var FleetReportHeader = []string{
	"Device Name",
	"Device ID",
	"Status",
	"Last Seen",
	"App Version",
	"IP Address",
	"Open Alerts",
}

// ReportService 运营报表导出（设备在线状态 + 未解决报警）
type ReportService struct {
	devices *repository.DevicesRepo
	alerts  *repository.AlertsRepo
	logger  *zap.Logger
}

func NewReportService(devices *repository.DevicesRepo, alerts *repository.AlertsRepo, logger *zap.Logger) *ReportService {
	return &ReportService{devices: devices, alerts: alerts, logger: logger}
}

// GenerateFleetReport 生成租户设备状态 Excel
func (s *ReportService) GenerateFleetReport(ctx context.Context, tenantID string) ([]byte, error) {
	devices, err := s.devices.ListDevices(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	open, err := s.alerts.ListOpenAlerts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	alertCount := map[string]int{}
	for _, a := range open {
		alertCount[a.DeviceID]++
	}

	f := excelize.NewFile()
	// WriteTo 需要文件保持打开，错误路径上手动 Close

	sheetName := "Fleet Status"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	for col, h := range FleetReportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i, d := range devices {
		lastSeen := ""
		if d.LastSeenAt != nil {
			lastSeen = d.LastSeenAt.UTC().Format(time.RFC3339)
		}
		appVersion := ""
		if d.AppVersion != nil {
			appVersion = *d.AppVersion
		}
		ip := ""
		if d.IPAddress != nil {
			ip = *d.IPAddress
		}
		row := []any{d.Name, d.DeviceID, d.Status, lastSeen, appVersion, ip, alertCount[d.DeviceID]}
		for col, v := range row {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to serialize report: %w", err)
	}
	if err := f.Close(); err != nil {
		s.logger.Warn("Failed to close report workbook", zap.Error(err))
	}
	return buf.Bytes(), nil
}
