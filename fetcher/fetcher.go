package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danthegoodman1/etlpipe/utils"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
)

var (
	ErrBadStatus   = errors.New("unexpected http status")
	ErrUnsafeEntry = errors.New("archive entry escapes destination")
)

// Download fetches url into destPath with a single GET, returning the number of bytes written.
func Download(ctx context.Context, client *http.Client, url, destPath string) (int64, error) {
	logger := zerolog.Ctx(ctx)

	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("error in http.NewRequestWithContext: %w", err)
	}

	s := time.Now()
	res, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("error in client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return 0, fmt.Errorf("%w: %s from %s", ErrBadStatus, res.Status, url)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	// partial downloads never show up at destPath
	partPath := destPath + ".part-" + utils.GenRandomShortID()
	f, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("error in os.Create: %w", err)
	}

	n, err := io.Copy(f, res.Body)
	if err != nil {
		f.Close()
		os.Remove(partPath)
		return n, fmt.Errorf("error writing download: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partPath)
		return n, fmt.Errorf("error closing download: %w", err)
	}
	if err := os.Rename(partPath, destPath); err != nil {
		os.Remove(partPath)
		return n, fmt.Errorf("error in os.Rename: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("url", url).Int64("bytes", n).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("downloaded archive")
	return n, nil
}

// Extract unzips archivePath into destDir and returns the extracted file paths in archive order.
// Entries that would land outside destDir fail the whole extraction.
func Extract(archivePath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("error in zip.OpenReader: %w", err)
	}
	defer zr.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("error in filepath.Abs: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}

	var files []string
	for _, zf := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(zf.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("%w: %s", ErrUnsafeEntry, zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
			}
			continue
		}

		if err := extractFile(zf, target); err != nil {
			return nil, fmt.Errorf("error extracting %s: %w", zf.Name, err)
		}
		files = append(files, target)
	}

	return files, nil
}

func extractFile(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}

	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("error in zf.Open: %w", err)
	}
	defer rc.Close()

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("error in os.Create: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("error in io.Copy: %w", err)
	}
	return f.Close()
}
