package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/models"
)

var errCancelled = errors.New("download cancelled")

var unsafeFilenameChars = regexp.MustCompile(`[^\w\-.]`)

// sanitizeFilename makes name safe to use as an on-disk ISO filename.
func sanitizeFilename(name string) string {
	s := unsafeFilenameChars.ReplaceAllString(name, "_")
	if !strings.HasSuffix(strings.ToLower(s), ".iso") {
		s += ".iso"
	}
	return s
}

// DownloadRequest names one ISO to fetch into the cache. Version
// selects a catalog entry for the windows and linux kinds; Name and
// URL drive custom downloads. URL also overrides the catalog default
// when set.
type DownloadRequest struct {
	Kind    Kind
	Version string
	Name    string
	URL     string
}

// StartDownload begins fetching an ISO in the background and returns
// the key to poll. Archive URLs are extracted after download and the
// contained ISO moved into place. A key whose file already exists is
// rejected; delete it first to re-download.
func (m *Manager) StartDownload(ctx context.Context, req DownloadRequest) (string, error) {
	var (
		key  string
		name string
		url  = strings.TrimSpace(req.URL)
	)
	switch req.Kind {
	case KindWindowsISO:
		v, ok := windowsVersion(req.Version)
		if !ok {
			return "", models.Validationf("unknown windows version %q", req.Version)
		}
		if url == "" {
			url = v.DownloadURL
		}
		if url == "" {
			return "", models.Validationf("no direct download available for windows %s, provide a url", req.Version)
		}
		key = isoKey(req.Kind, req.Version)
		name = v.Name
	case KindLinuxISO:
		v, ok := linuxDistro(req.Version)
		if !ok {
			return "", models.Validationf("unknown linux distro %q", req.Version)
		}
		if url == "" {
			url = v.DownloadURL
		}
		if url == "" {
			return "", models.Validationf("no direct download available for linux %s, provide a url", req.Version)
		}
		key = isoKey(req.Kind, req.Version)
		name = v.Name
	case KindCustomISO:
		if strings.TrimSpace(req.Name) == "" || url == "" {
			return "", models.Validationf("custom ISO downloads need both a name and a url")
		}
		key = sanitizeFilename(req.Name)
		name = req.Name
	default:
		return "", models.Validationf("cache kind %q is not downloadable", req.Kind)
	}

	finalPath := m.isoPath(req.Kind, key)
	if _, err := os.Stat(finalPath); err == nil {
		return "", models.Conflictf("%s already exists, delete it first to re-download", key)
	}

	m.mu.Lock()
	m.sweepLocked()
	if e, ok := m.entries[key]; ok && !terminal(e.State) {
		m.mu.Unlock()
		return "", models.Conflictf("download already in progress for %q", key)
	}
	jobCtx, stop := context.WithTimeout(context.Background(), m.timeout)
	m.entries[key] = &entry{
		Entry: Entry{Key: key, Kind: req.Kind, Name: name, State: StateDownloading},
		stop:  stop,
	}
	m.mu.Unlock()

	m.Log.WithFields(logrus.Fields{"key": key, "url": url}).Info("starting ISO download")
	go func() {
		defer stop()
		m.download(jobCtx, key, name, url, finalPath, req.Kind)
	}()
	return key, nil
}

func (m *Manager) download(ctx context.Context, key, name, url, finalPath string, kind Kind) {
	var (
		ext         = archiveExt(url)
		partial     = finalPath + ".partial"
		archivePath string
		scratch     string
	)
	target := partial
	if ext != "" {
		archivePath = filepath.Join(filepath.Dir(finalPath), ".tmp_"+filepath.Base(finalPath)+ext)
		target = archivePath
	}

	cleanup := func() {
		os.Remove(partial)
		if archivePath != "" {
			os.Remove(archivePath)
		}
		if scratch != "" {
			os.RemoveAll(scratch)
		}
	}

	err := func() error {
		if err := m.fetch(ctx, key, url, target); err != nil {
			return err
		}

		isoSrc := target
		if ext != "" {
			m.update(key, func(e *entry) { e.State = StateExtracting })
			var err error
			isoSrc, scratch, err = m.extractISO(ctx, archivePath)
			if err != nil {
				return err
			}
		}

		// Cancellation must never leave a file at the final path, so
		// check one last time before the rename makes it visible.
		if m.cancelRequested(key) {
			return errCancelled
		}
		return os.Rename(isoSrc, finalPath)
	}()

	cleanup()

	if err != nil {
		if errors.Is(err, errCancelled) || errors.Is(err, context.Canceled) || m.cancelRequested(key) {
			m.Log.WithField("key", key).Info("ISO download cancelled, partial file removed")
			m.evict(key)
			return
		}
		m.fail(key, err)
		return
	}

	if kind == KindCustomISO {
		if err := m.writeMetadata(key, name, url, ext != ""); err != nil {
			m.Log.WithField("key", key).Warnf("could not update ISO metadata: %v", err)
		}
	}

	size := int64(0)
	if info, err := os.Stat(finalPath); err == nil {
		size = info.Size()
	}
	m.update(key, func(e *entry) { e.BytesDone = size })
	m.Log.WithFields(logrus.Fields{"key": key, "path": finalPath}).Info("ISO download complete")
	m.complete(key, finalPath)
}

// fetch streams url to dest in chunks, polling for cancellation
// between chunks and publishing byte progress as it goes.
func (m *Manager) fetch(ctx context.Context, key, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}
	if resp.ContentLength > 0 {
		m.update(key, func(e *entry) { e.BytesTotal = resp.ContentLength })
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, downloadChunkSize)
	var done int64
	for {
		if m.cancelRequested(key) {
			return errCancelled
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return err
			}
			done += int64(n)
			m.update(key, func(e *entry) {
				e.BytesDone = done
				if e.BytesTotal > 0 {
					e.Progress = math.Min(float64(done)/float64(e.BytesTotal)*100, 99)
				}
			})
		}
		if readErr == io.EOF {
			return f.Sync()
		}
		if readErr != nil {
			return readErr
		}
	}
}

// isoMetadata is one record in the custom ISO directory's
// metadata.json index, keyed by filename.
type isoMetadata struct {
	Name                 string `json:"name"`
	URL                  string `json:"url"`
	DownloadedAt         string `json:"downloaded_at"`
	ExtractedFromArchive bool   `json:"extracted_from_archive"`
}

func (m *Manager) metadataPath() string {
	return filepath.Join(m.root, customDir, "metadata.json")
}

func (m *Manager) readMetadata() map[string]isoMetadata {
	index := map[string]isoMetadata{}
	raw, err := os.ReadFile(m.metadataPath())
	if err != nil {
		return index
	}
	// A corrupt index starts over rather than blocking downloads.
	if err := json.Unmarshal(raw, &index); err != nil {
		return map[string]isoMetadata{}
	}
	return index
}

func (m *Manager) writeMetadata(key, name, url string, fromArchive bool) error {
	index := m.readMetadata()
	index[key] = isoMetadata{
		Name:                 name,
		URL:                  url,
		DownloadedAt:         m.now().UTC().Format(time.RFC3339),
		ExtractedFromArchive: fromArchive,
	}
	raw, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.metadataPath(), raw, 0o644)
}

func (m *Manager) dropMetadata(key string) {
	index := m.readMetadata()
	if _, ok := index[key]; !ok {
		return
	}
	delete(index, key)
	if raw, err := json.MarshalIndent(index, "", "  "); err == nil {
		os.WriteFile(m.metadataPath(), raw, 0o644)
	}
}

// CachedISO is one ISO present on disk.
type CachedISO struct {
	Key          string `json:"key"`
	Kind         Kind   `json:"kind"`
	Name         string `json:"name"`
	Path         string `json:"path"`
	SizeBytes    int64  `json:"size_bytes"`
	URL          string `json:"url,omitempty"`
	DownloadedAt string `json:"downloaded_at,omitempty"`
}

// ListISOs enumerates every ISO in the cache directories, skipping
// partial downloads and temp archives. Custom entries are enriched
// from the metadata index when present.
func (m *Manager) ListISOs() ([]CachedISO, error) {
	meta := m.readMetadata()
	dirs := []struct {
		dir  string
		kind Kind
	}{
		{windowsDir, KindWindowsISO},
		{linuxDir, KindLinuxISO},
		{customDir, KindCustomISO},
	}

	var out []CachedISO
	for _, d := range dirs {
		files, err := os.ReadDir(filepath.Join(m.root, d.dir))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(strings.ToLower(f.Name()), ".iso") || strings.HasPrefix(f.Name(), ".") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			iso := CachedISO{
				Key:       f.Name(),
				Kind:      d.kind,
				Name:      catalogName(d.kind, f.Name()),
				Path:      filepath.Join(m.root, d.dir, f.Name()),
				SizeBytes: info.Size(),
			}
			if d.kind == KindCustomISO {
				if rec, ok := meta[f.Name()]; ok {
					iso.Name = rec.Name
					iso.URL = rec.URL
					iso.DownloadedAt = rec.DownloadedAt
				} else {
					iso.Name = strings.TrimSuffix(f.Name(), ".iso")
				}
			}
			out = append(out, iso)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// catalogName resolves a cached filename back to its catalog display
// name, falling back to the filename itself.
func catalogName(kind Kind, filename string) string {
	code := strings.TrimSuffix(filename, ".iso")
	switch kind {
	case KindWindowsISO:
		if v, ok := windowsVersion(strings.TrimPrefix(code, "windows-")); ok {
			return v.Name
		}
	case KindLinuxISO:
		if v, ok := linuxDistro(strings.TrimPrefix(code, "linux-")); ok {
			return v.Name
		}
	}
	return filename
}
