// Command uploadapp publishes a client build to the updates endpoint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/manpreetbhatti/drawsync/internal/release"
)

var (
	successColor = color.New(color.FgGreen).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
	infoColor    = color.New(color.FgCyan).SprintFunc()
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	platform := flag.String("platform", "", "android, windows or linux")
	version := flag.String("version", "", "release version")
	file := flag.String("file", "", "path to the binary")
	notes := flag.String("notes", "", "release notes")
	required := flag.Bool("required", false, "mark the update as required")
	check := flag.Bool("check", false, "only print the latest release for -platform")
	flag.Parse()

	if !release.ValidPlatform(*platform) {
		fail("unknown platform %q", *platform)
	}

	if *check {
		if err := checkLatest(*server, *platform); err != nil {
			fail("%v", err)
		}
		return
	}

	if *version == "" || *file == "" {
		fail("-version and -file are required")
	}
	if _, err := release.CheckExtension(*platform, *file); err != nil {
		fail("%v", err)
	}

	if err := upload(*server, *platform, *version, *file, *notes, *required); err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, errorColor(fmt.Sprintf(format, args...)))
	os.Exit(1)
}

func upload(server, platform, version, path, notes string, required bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	fmt.Printf("%s %s v%s (%s)\n", infoColor("uploading"), platform, version, humanize.Bytes(uint64(stat.Size())))

	bar := progressbar.NewOptions64(
		stat.Size(),
		progressbar.OptionSetDescription(filepath.Base(path)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		fields := map[string]string{
			"version":       version,
			"release_notes": notes,
			"is_required":   strconv.FormatBool(required),
		}
		// the server reads fields before the file part
		for _, k := range []string{"version", "release_notes", "is_required"} {
			if err := form.WriteField(k, fields[k]); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(io.MultiWriter(part, bar), f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	endpoint, err := url.JoinPath(server, "/api/updates/upload/", platform)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload failed: %s: %s", resp.Status, body)
	}

	var result struct {
		DownloadURL string `json:"download_url"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return err
	}
	fmt.Println(successColor("uploaded"), "download at", result.DownloadURL)
	return nil
}

func checkLatest(server, platform string) error {
	endpoint, err := url.JoinPath(server, "/api/updates/check/", platform)
	if err != nil {
		return err
	}

	resp, err := http.Get(endpoint + "?current_version=0.0.0")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("check failed: %s", resp.Status)
	}

	var result release.CheckResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.LatestVersion == "" {
		fmt.Println(infoColor("no releases for " + platform))
		return nil
	}
	fmt.Printf("%s %s v%s (%s)\n", infoColor("latest"), platform, result.LatestVersion, result.FileSizeHuman)
	if result.ReleaseNotes != "" {
		fmt.Println(result.ReleaseNotes)
	}
	return nil
}
