// Package release holds the rules shared by the update server and the
// upload client: which platforms exist, which binaries each accepts and the
// shape of an update check.
package release

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrInvalidExtension    = errors.New("invalid file extension")
)

var extensions = map[string][]string{
	"android": {".apk"},
	"windows": {".exe", ".msi"},
	"linux":   {".appimage", ".deb", ".rpm"},
}

// Platforms lists the supported platforms in name order
func Platforms() []string {
	names := make([]string, 0, len(extensions))
	for name := range extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ValidPlatform(platform string) bool {
	_, ok := extensions[platform]
	return ok
}

// CheckExtension returns the lowercased extension of filename if it is
// allowed for platform.
func CheckExtension(platform, filename string) (string, error) {
	allowed, ok := extensions[platform]
	if !ok {
		return "", errors.Wrap(ErrUnsupportedPlatform, platform)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, a := range allowed {
		if ext == a {
			return ext, nil
		}
	}
	return "", errors.Wrapf(ErrInvalidExtension, "%q for %s", ext, platform)
}

func DownloadURL(platform string) string {
	return "/api/updates/download/" + platform
}

// CheckResult answers "is there something newer than what I run"
type CheckResult struct {
	HasUpdate      bool       `json:"has_update"`
	Message        string     `json:"message,omitempty"`
	CurrentVersion string     `json:"current_version,omitempty"`
	LatestVersion  string     `json:"latest_version,omitempty"`
	DownloadURL    string     `json:"download_url,omitempty"`
	FileSize       int64      `json:"file_size,omitempty"`
	FileSizeHuman  string     `json:"file_size_human,omitempty"`
	ReleaseNotes   string     `json:"release_notes,omitempty"`
	IsRequired     bool       `json:"is_required,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}
