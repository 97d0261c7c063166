package updates

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/drawsync/internal/db"
	"github.com/manpreetbhatti/drawsync/internal/release"
)

var (
	ErrFileTooLarge = errors.New("file too large")
	ErrNoRelease    = errors.New("no release found")
)

// Versions is where release records are kept
type Versions interface {
	SaveAppVersion(v db.AppVersion) (*db.AppVersion, error)
	LatestAppVersion(platform string) (*db.AppVersion, error)
	ListAppVersions(platform string) ([]db.AppVersion, error)
}

// Store keeps the newest binary per platform on disk as <dir>/<platform>/app<ext>
type Store struct {
	dir      string
	maxSize  int64
	versions Versions
}

func NewStore(dir string, maxSize int64, versions Versions) (*Store, error) {
	for _, platform := range release.Platforms() {
		if err := os.MkdirAll(filepath.Join(dir, platform), 0755); err != nil {
			return nil, errors.Wrapf(err, "create updates dir for %s", platform)
		}
	}
	return &Store{dir: dir, maxSize: maxSize, versions: versions}, nil
}

type Upload struct {
	Platform     string
	Version      string
	ReleaseNotes string
	IsRequired   bool
	Filename     string
	Body         io.Reader
}

// Save writes the uploaded binary and records it as the latest release
func (s *Store) Save(u Upload) (*db.AppVersion, error) {
	ext, err := release.CheckExtension(u.Platform, u.Filename)
	if err != nil {
		return nil, err
	}
	if u.Version == "" {
		return nil, errors.New("version is required")
	}

	platformDir := filepath.Join(s.dir, u.Platform)
	tmp, err := os.CreateTemp(platformDir, "upload-*")
	if err != nil {
		return nil, errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	body := u.Body
	if s.maxSize > 0 {
		body = io.LimitReader(u.Body, s.maxSize+1)
	}
	size, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, errors.Wrap(err, "write upload")
	}
	if s.maxSize > 0 && size > s.maxSize {
		return nil, errors.Wrapf(ErrFileTooLarge, "limit is %s", humanize.IBytes(uint64(s.maxSize)))
	}

	if err := s.removeBinaries(platformDir); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(platformDir, "app"+ext)); err != nil {
		return nil, errors.Wrap(err, "store upload")
	}

	v, err := s.versions.SaveAppVersion(db.AppVersion{
		Platform:     u.Platform,
		Version:      u.Version,
		DownloadURL:  release.DownloadURL(u.Platform),
		FileSize:     size,
		ReleaseNotes: u.ReleaseNotes,
		IsRequired:   u.IsRequired,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("release uploaded",
		"platform", u.Platform,
		"version", u.Version,
		"size", humanize.Bytes(uint64(size)))
	return v, nil
}

func (s *Store) removeBinaries(platformDir string) error {
	matches, err := filepath.Glob(filepath.Join(platformDir, "app.*"))
	if err != nil {
		return errors.Wrap(err, "list binaries")
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return errors.Wrap(err, "remove old binary")
		}
	}
	return nil
}

// Check compares current against the latest release. Any difference in the
// version string counts as an update.
func (s *Store) Check(platform, current string) (release.CheckResult, error) {
	if !release.ValidPlatform(platform) {
		return release.CheckResult{}, errors.Wrap(release.ErrUnsupportedPlatform, platform)
	}
	if current == "" {
		current = "1.0.0"
	}

	latest, err := s.versions.LatestAppVersion(platform)
	if err != nil {
		return release.CheckResult{}, err
	}
	if latest == nil {
		return release.CheckResult{HasUpdate: false, Message: "no updates found"}, nil
	}

	return release.CheckResult{
		HasUpdate:      latest.Version != current,
		CurrentVersion: current,
		LatestVersion:  latest.Version,
		DownloadURL:    latest.DownloadURL,
		FileSize:       latest.FileSize,
		FileSizeHuman:  humanize.Bytes(uint64(latest.FileSize)),
		ReleaseNotes:   latest.ReleaseNotes,
		IsRequired:     latest.IsRequired,
		UpdatedAt:      &latest.CreatedAt,
	}, nil
}

// Open returns the latest binary for platform along with the file name a
// client should save it as. The caller closes the file.
func (s *Store) Open(platform string) (*os.File, string, error) {
	if !release.ValidPlatform(platform) {
		return nil, "", errors.Wrap(release.ErrUnsupportedPlatform, platform)
	}

	latest, err := s.versions.LatestAppVersion(platform)
	if err != nil {
		return nil, "", err
	}
	if latest == nil {
		return nil, "", ErrNoRelease
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, platform, "app.*"))
	if err != nil {
		return nil, "", errors.Wrap(err, "find binary")
	}
	if len(matches) == 0 {
		return nil, "", errors.Wrap(ErrNoRelease, "binary missing on disk")
	}

	f, err := os.Open(matches[0])
	if err != nil {
		return nil, "", errors.Wrap(err, "open binary")
	}
	name := fmt.Sprintf("DrawingApp_%s%s", latest.Version, filepath.Ext(matches[0]))
	return f, name, nil
}

func (s *Store) Versions(platform string) ([]db.AppVersion, error) {
	if !release.ValidPlatform(platform) {
		return nil, errors.Wrap(release.ErrUnsupportedPlatform, platform)
	}
	versions, err := s.versions.ListAppVersions(platform)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []db.AppVersion{}
	}
	return versions, nil
}
