package release

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExtension(t *testing.T) {
	tests := []struct {
		platform string
		file     string
		want     string
		err      error
	}{
		{"android", "app.apk", ".apk", nil},
		{"android", "APP.APK", ".apk", nil},
		{"windows", "setup.msi", ".msi", nil},
		{"linux", "Drawing.AppImage", ".appimage", nil},
		{"linux", "drawing.exe", "", ErrInvalidExtension},
		{"ios", "app.ipa", "", ErrUnsupportedPlatform},
	}
	for _, tt := range tests {
		t.Run(tt.platform+"/"+tt.file, func(t *testing.T) {
			ext, err := CheckExtension(tt.platform, tt.file)
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ext)
		})
	}
}

func TestPlatforms(t *testing.T) {
	assert.Equal(t, []string{"android", "linux", "windows"}, Platforms())
	for _, p := range Platforms() {
		assert.True(t, ValidPlatform(p))
	}
	assert.False(t, ValidPlatform("ios"))
	assert.Equal(t, "/api/updates/download/linux", DownloadURL("linux"))
}
