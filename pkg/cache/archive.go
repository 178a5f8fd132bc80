package cache

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

// Compound extensions are checked before their suffixes so that
// "guest.tar.gz" strips ".tar.gz" rather than ".gz".
var compoundArchiveExts = []string{".tar.gz", ".tar.bz2", ".tar.xz"}

var simpleArchiveExts = []string{
	".zip", ".7z", ".rar", ".tar", ".tgz", ".tbz2", ".txz",
	".gz", ".gzip", ".bz2", ".xz", ".lzma",
}

// archiveExt returns the archive extension of url, ignoring any query
// string, or "" when the URL points at a plain file.
func archiveExt(url string) string {
	path := strings.ToLower(url)
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	for _, ext := range compoundArchiveExts {
		if strings.HasSuffix(path, ext) {
			return ext
		}
	}
	for _, ext := range simpleArchiveExts {
		if strings.HasSuffix(path, ext) {
			return ext
		}
	}
	return ""
}

// extractISO unpacks archivePath into a scratch directory beside it
// and returns the largest .iso found inside. The scratch directory is
// returned for the caller to clean up, including on error.
func (m *Manager) extractISO(ctx context.Context, archivePath string) (isoPath string, scratch string, err error) {
	scratch, err = os.MkdirTemp(filepath.Dir(archivePath), ".extract-")
	if err != nil {
		return "", "", err
	}

	cmd := fmt.Sprintf("7z x %s -o%s -y", m.os.Quote(archivePath), m.os.Quote(scratch))
	if _, err := m.os.RunCommandWithOutputContext(ctx, cmd); err != nil {
		return "", scratch, fmt.Errorf("extract %s: %w", filepath.Base(archivePath), err)
	}

	var isos []string
	err = filepath.WalkDir(scratch, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".iso") {
			isos = append(isos, path)
		}
		return nil
	})
	if err != nil {
		return "", scratch, err
	}
	if len(isos) == 0 {
		return "", scratch, fmt.Errorf("no .iso file inside %s", filepath.Base(archivePath))
	}
	if len(isos) > 1 {
		m.Log.Warnf("archive %s contains %d ISO files, keeping the largest", filepath.Base(archivePath), len(isos))
	}
	largest := lo.MaxBy(isos, func(a, b string) bool { return fileSize(a) > fileSize(b) })
	return largest, scratch, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
