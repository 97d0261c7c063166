package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"goji.io/v3/pat"

	"github.com/manpreetbhatti/drawsync/internal/release"
	"github.com/manpreetbhatti/drawsync/internal/updates"
)

func updateErrorStatus(err error) int {
	switch {
	case errors.Is(err, release.ErrUnsupportedPlatform),
		errors.Is(err, release.ErrInvalidExtension):
		return http.StatusBadRequest
	case errors.Is(err, updates.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, updates.ErrNoRelease):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (a *API) CheckUpdateHandler(w http.ResponseWriter, r *http.Request) {
	platform := pat.Param(r, "platform")

	result, err := a.opts.Updates.Check(platform, r.URL.Query().Get("current_version"))
	if err != nil {
		errorResponse(w, updateErrorStatus(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

func (a *API) DownloadUpdateHandler(w http.ResponseWriter, r *http.Request) {
	platform := pat.Param(r, "platform")

	f, name, err := a.opts.Updates.Open(platform)
	if err != nil {
		errorResponse(w, updateErrorStatus(err), err.Error())
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to read update")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, stat.ModTime(), f)
}

func (a *API) UploadUpdateHandler(w http.ResponseWriter, r *http.Request) {
	platform := pat.Param(r, "platform")
	if !release.ValidPlatform(platform) {
		errorResponse(w, http.StatusBadRequest, "Unsupported platform")
		return
	}

	if a.opts.MaxUploadSize > 0 {
		// room for the form fields around the file
		r.Body = http.MaxBytesReader(w, r.Body, a.opts.MaxUploadSize+1<<20)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Expected multipart form")
		return
	}

	upload := updates.Upload{Platform: platform}
	var saved bool
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			errorResponse(w, http.StatusBadRequest, "Invalid multipart body")
			return
		}

		switch part.FormName() {
		case "version", "release_notes", "is_required":
			value, err := io.ReadAll(io.LimitReader(part, 64<<10))
			if err != nil {
				errorResponse(w, http.StatusBadRequest, "Invalid form field")
				return
			}
			switch part.FormName() {
			case "version":
				upload.Version = string(value)
			case "release_notes":
				upload.ReleaseNotes = string(value)
			case "is_required":
				upload.IsRequired, err = strconv.ParseBool(string(value))
				if err != nil {
					errorResponse(w, http.StatusBadRequest, "'is_required' must be true or false")
					return
				}
			}
		case "file":
			// fields must precede the file part
			if upload.Version == "" {
				errorResponse(w, http.StatusBadRequest, "'version' is required before 'file'")
				return
			}
			upload.Filename = part.FileName()
			upload.Body = part
			v, err := a.opts.Updates.Save(upload)
			if err != nil {
				slog.Warn("upload rejected", "platform", platform, "error", err)
				errorResponse(w, updateErrorStatus(err), err.Error())
				return
			}
			saved = true
			jsonResponse(w, http.StatusOK, map[string]interface{}{
				"success":      true,
				"message":      "Update for " + platform + " v" + v.Version + " uploaded",
				"file_size":    v.FileSize,
				"size":         humanize.Bytes(uint64(v.FileSize)),
				"download_url": v.DownloadURL,
			})
		}
		part.Close()
		if saved {
			return
		}
	}

	errorResponse(w, http.StatusBadRequest, "'file' is required")
}

func (a *API) ListVersionsHandler(w http.ResponseWriter, r *http.Request) {
	platform := pat.Param(r, "platform")

	versions, err := a.opts.Updates.Versions(platform)
	if err != nil {
		errorResponse(w, updateErrorStatus(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"versions": versions})
}
