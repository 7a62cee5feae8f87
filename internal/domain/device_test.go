package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceSettings(t *testing.T) {
	s, err := ParseDeviceSettings(json.RawMessage(`{"orientation":"portrait","volume":130,"timezone":"Asia/Tokyo"}`))
	require.NoError(t, err)
	assert.Equal(t, "portrait", s.Orientation)
	require.NotNil(t, s.Volume)
	assert.Equal(t, 100, *s.Volume) // 越界钳制
	assert.Equal(t, "Asia/Tokyo", s.Timezone)

	// 空配置合法
	s, err = ParseDeviceSettings(nil)
	require.NoError(t, err)
	assert.Empty(t, s.Orientation)

	_, err = ParseDeviceSettings(json.RawMessage(`not-json`))
	assert.Error(t, err)
}

func TestDeviceSettings_Location(t *testing.T) {
	s := &DeviceSettings{Timezone: "Asia/Tokyo"}
	assert.Equal(t, "Asia/Tokyo", s.Location().String())

	// 未配置与无法识别的时区都回退 UTC
	assert.Equal(t, "UTC", (&DeviceSettings{}).Location().String())
	assert.Equal(t, "UTC", (&DeviceSettings{Timezone: "Mars/Olympus"}).Location().String())
}
