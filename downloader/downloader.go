// Package downloader fetches the static GTFS feed: a ZIP of CSV files
// that gets extracted flat into a data directory, alongside a
// timestamp.txt recording when the copy was published upstream.
package downloader

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	timestampFile = "timestamp.txt"

	fetchTimeout = 5 * time.Minute
	headTimeout  = 10 * time.Second
)

// Timestamp returns the publication time of the extracted feed, as
// recorded by Fetch.
func Timestamp(dir string) (time.Time, error) {
	buf, err := os.ReadFile(filepath.Join(dir, timestampFile))
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(buf)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", timestampFile, err)
	}
	return ts, nil
}

// Stale reports whether the upstream feed is newer than the local
// copy. A missing local copy is stale; an upstream that won't say when
// it was modified is assumed current.
func Stale(ctx context.Context, dir, url string) (bool, error) {
	local, err := Timestamp(dir)
	if err != nil {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("HEAD %s returned %s", url, resp.Status)
	}

	remote, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	if err != nil {
		logrus.Debugf("no usable Last-Modified from %s", url)
		return false, nil
	}
	return remote.After(local), nil
}

// Fetch downloads the feed ZIP and extracts its *.txt members flat
// into dir, then records the upstream Last-Modified (or the download
// time) in timestamp.txt.
func Fetch(ctx context.Context, url, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %s", url, resp.Status)
	}

	// Spool to disk first; the zip reader needs random access.
	tmp, err := os.CreateTemp(dir, "gtfs-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	logrus.Debugf("downloaded %d bytes from %s", size, url)

	if err := extract(tmp.Name(), dir); err != nil {
		return err
	}

	published := time.Now()
	if ts, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		published = ts
	}
	return WriteTimestamp(dir, published)
}

func extract(zipPath, dir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening feed zip: %w", err)
	}
	defer zr.Close()

	n := 0
	for _, zf := range zr.File {
		name := filepath.Base(zf.Name)
		if !strings.HasSuffix(name, ".txt") || zf.FileInfo().IsDir() {
			continue
		}
		if err := extractFile(zf, filepath.Join(dir, name)); err != nil {
			return err
		}
		n++
	}
	if n == 0 {
		return fmt.Errorf("no .txt files in feed zip")
	}
	logrus.Debugf("extracted %d files into %s", n, dir)
	return nil
}

func extractFile(zf *zip.File, path string) error {
	src, err := zf.Open()
	if err != nil {
		return fmt.Errorf("extracting %s: %w", zf.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("extracting %s: %w", zf.Name, err)
	}
	return dst.Close()
}

// WriteTimestamp stamps dir as holding a feed published at ts.
func WriteTimestamp(dir string, ts time.Time) error {
	return os.WriteFile(
		filepath.Join(dir, timestampFile),
		[]byte(ts.UTC().Format(time.RFC3339)+"\n"),
		0o644,
	)
}
