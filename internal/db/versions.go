package db

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// AppVersion is one released build of the client application
type AppVersion struct {
	ID           int64     `db:"id" json:"id"`
	Platform     string    `db:"platform" json:"platform"`
	Version      string    `db:"version" json:"version"`
	DownloadURL  string    `db:"download_url" json:"download_url"`
	FileSize     int64     `db:"file_size" json:"file_size"`
	ReleaseNotes string    `db:"release_notes" json:"release_notes"`
	IsRequired   bool      `db:"is_required" json:"is_required"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

const versionColumns = `id, platform, version, download_url, file_size, release_notes, is_required, created_at`

func (d *Database) SaveAppVersion(v AppVersion) (*AppVersion, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	v.CreatedAt = v.CreatedAt.UTC()

	result, err := d.db.Exec(`
		INSERT INTO app_versions (platform, version, download_url, file_size, release_notes, is_required, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.Platform, v.Version, v.DownloadURL, v.FileSize, v.ReleaseNotes, v.IsRequired, v.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "save app version")
	}

	if v.ID, err = result.LastInsertId(); err != nil {
		return nil, errors.Wrap(err, "save app version")
	}
	return &v, nil
}

// LatestAppVersion returns the most recent release for platform, or nil
func (d *Database) LatestAppVersion(platform string) (*AppVersion, error) {
	var v AppVersion
	err := d.db.Get(&v, `
		SELECT `+versionColumns+`
		FROM app_versions
		WHERE platform = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, platform)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "latest app version")
	}
	return &v, nil
}

// ListAppVersions returns every release for platform, newest first
func (d *Database) ListAppVersions(platform string) ([]AppVersion, error) {
	var versions []AppVersion
	err := d.db.Select(&versions, `
		SELECT `+versionColumns+`
		FROM app_versions
		WHERE platform = ?
		ORDER BY created_at DESC, id DESC
	`, platform)
	return versions, errors.Wrap(err, "list app versions")
}
