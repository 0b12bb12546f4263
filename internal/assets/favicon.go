// Package assets prepares static files served by the web UI.
package assets

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// FaviconArchive is the default name of the icon bundle.
const FaviconArchive = "favicon_io.zip"

// ExtractFavicons unpacks zipPath into <staticDir>/icons. Nothing happens
// when the archive is missing or the icons directory already exists. It
// reports whether files were extracted.
func ExtractFavicons(zipPath, staticDir string) (bool, error) {
	if _, err := os.Stat(zipPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	target := filepath.Join(staticDir, "icons")
	if _, err := os.Stat(target); err == nil {
		return false, nil
	}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer zr.Close()

	// Extract into a temporary directory and rename it so a failed run does
	// not leave a half-filled icons directory behind.
	if err := os.MkdirAll(staticDir, 0o755); err != nil {
		return false, err
	}
	tmp, err := os.MkdirTemp(staticDir, ".icons-")
	if err != nil {
		return false, err
	}
	defer os.RemoveAll(tmp)

	for _, f := range zr.File {
		if err := extractFile(f, tmp); err != nil {
			return false, err
		}
	}

	if err := os.Rename(tmp, target); err != nil {
		return false, fmt.Errorf("install icons: %w", err)
	}
	logrus.WithFields(logrus.Fields{"archive": zipPath, "files": len(zr.File)}).Info("Extracted favicons")
	return true, nil
}

func extractFile(f *zip.File, dir string) error {
	name := filepath.Clean(f.Name)
	if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return fmt.Errorf("illegal path in archive: %s", f.Name)
	}
	path := filepath.Join(dir, name)

	if f.FileInfo().IsDir() {
		return os.MkdirAll(path, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
