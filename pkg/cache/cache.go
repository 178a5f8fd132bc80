package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/runtime"
	"github.com/cyroid/cyroid/pkg/utils"
)

// Kind classifies what a cache job produces.
type Kind string

const (
	KindImage      Kind = "image"
	KindWindowsISO Kind = "windows_iso"
	KindLinuxISO   Kind = "linux_iso"
	KindCustomISO  Kind = "custom_iso"
)

// State is the lifecycle of a cache job. NotFound is only ever
// reported by Status, for keys with no job and nothing on disk.
type State string

const (
	StatePulling     State = "pulling"
	StateDownloading State = "downloading"
	StateExtracting  State = "extracting"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
	StateNotFound    State = "not_found"
)

func terminal(s State) bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Entry is a point-in-time view of one cache job. Progress is 0-100
// and stays capped at 99 until the artifact is verified in place.
type Entry struct {
	Key        string  `json:"key"`
	Kind       Kind    `json:"kind"`
	Name       string  `json:"name"`
	State      State   `json:"state"`
	Progress   float64 `json:"progress"`
	BytesDone  int64   `json:"bytes_done,omitempty"`
	BytesTotal int64   `json:"bytes_total,omitempty"`
	Error      string  `json:"error,omitempty"`
	Path       string  `json:"path,omitempty"`
}

type entry struct {
	Entry
	stop    context.CancelFunc
	evictAt time.Time // zero while the job is live
}

const (
	windowsDir = "windows-isos"
	linuxDir   = "linux-isos"
	customDir  = "custom-isos"

	downloadChunkSize = 1 << 20

	// Finished jobs stay visible this long so pollers catch the
	// terminal state before the entry is swept.
	defaultGrace = 3 * time.Second

	defaultJobTimeout = time.Hour
)

// Manager tracks image pulls and ISO downloads into a local cache
// directory. Jobs run in background goroutines and are polled by key;
// terminal entries linger for a short grace period, after which Status
// answers from the filesystem and the image store instead.
type Manager struct {
	Log     *logrus.Entry
	runtime runtime.ContainerRuntime
	os      *utils.OSCommand

	root    string
	client  *http.Client
	grace   time.Duration
	timeout time.Duration

	mu      deadlock.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewManager creates the cache layout under root and returns a manager
// over it. timeout bounds each download and extraction job; zero means
// the default of one hour.
func NewManager(log *logrus.Entry, rt runtime.ContainerRuntime, osCommand *utils.OSCommand, root string, timeout time.Duration) (*Manager, error) {
	for _, dir := range []string{windowsDir, linuxDir, customDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &Manager{
		Log:     log,
		runtime: rt,
		os:      osCommand,
		root:    root,
		client:  &http.Client{},
		grace:   defaultGrace,
		timeout: timeout,
		entries: map[string]*entry{},
		now:     time.Now,
	}, nil
}

// pullKey flattens an image reference into a pollable key, for example
// "linuxserver/webtop:ubuntu-xfce" becomes
// "linuxserver_webtop_ubuntu-xfce".
func pullKey(image string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(image)
}

// imageFromKey reverses pullKey on a best-effort basis. References
// with literal underscores cannot round-trip and just report not
// found.
func imageFromKey(key string) string {
	parts := strings.Split(key, "_")
	if len(parts) == 1 {
		return key
	}
	repo := strings.Join(parts[:len(parts)-1], "/")
	return repo + ":" + parts[len(parts)-1]
}

// StartPull begins pulling image in the background and returns the key
// to poll. Images already present return the key with no job
// registered, so a Status call right after reports completed.
func (m *Manager) StartPull(ctx context.Context, image string) (string, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return "", models.Validationf("image name is required")
	}
	key := pullKey(image)

	exists, err := m.runtime.ImageExists(ctx, image)
	if err != nil {
		return "", err
	}
	if exists {
		return key, nil
	}

	m.mu.Lock()
	m.sweepLocked()
	if e, ok := m.entries[key]; ok && !terminal(e.State) {
		m.mu.Unlock()
		return "", models.Conflictf("image %q is already being pulled", image)
	}
	jobCtx, stop := context.WithCancel(context.Background())
	m.entries[key] = &entry{
		Entry: Entry{Key: key, Kind: KindImage, Name: image, State: StatePulling},
		stop:  stop,
	}
	m.mu.Unlock()

	m.Log.WithField("image", image).Info("starting image pull")
	go func() {
		defer stop()
		m.pull(jobCtx, key, image)
	}()
	return key, nil
}

type layerProgress struct {
	current int64
	total   int64
}

// pullTracker folds per-layer byte counts into one percentage. Layers
// that finish without ever reporting sizes count as one unit so they
// still move the needle.
type pullTracker struct {
	layers map[string]layerProgress
}

func newPullTracker() *pullTracker {
	return &pullTracker{layers: map[string]layerProgress{}}
}

// observe ingests one progress record and returns the aggregate
// percentage, capped at 99 until the image is verified present.
func (t *pullTracker) observe(p runtime.PullProgress) float64 {
	if p.LayerID != "" {
		switch {
		case p.Total > 0:
			t.layers[p.LayerID] = layerProgress{current: p.Current, total: p.Total}
		case p.Status == runtime.PullStatusComplete || p.Status == runtime.PullStatusAlreadyExists:
			lp := t.layers[p.LayerID]
			if lp.total == 0 {
				lp = layerProgress{current: 1, total: 1}
			} else {
				lp.current = lp.total
			}
			t.layers[p.LayerID] = lp
		}
	}
	var current, total int64
	for _, lp := range t.layers {
		current += lp.current
		total += lp.total
	}
	if total == 0 {
		return 0
	}
	return math.Min(float64(current)/float64(total)*100, 99)
}

func (m *Manager) pull(ctx context.Context, key, image string) {
	tracker := newPullTracker()
	err := m.runtime.PullStream(ctx, image, func(p runtime.PullProgress) {
		pct := tracker.observe(p)
		m.update(key, func(e *entry) { e.Progress = pct })
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || m.cancelRequested(key) {
			m.markCancelled(key)
			return
		}
		m.fail(key, err)
		return
	}

	exists, err := m.runtime.ImageExists(ctx, image)
	if err != nil {
		m.fail(key, err)
		return
	}
	if !exists {
		m.fail(key, fmt.Errorf("pull finished but %s is missing from the image store", image))
		return
	}
	m.Log.WithField("image", image).Info("image pull complete")
	m.complete(key, "")
}

// Status reports the state of key. Keys with no live entry fall back
// to disk for ISOs and to the image store for pulls, so answers stay
// truthful after the entry is swept.
func (m *Manager) Status(ctx context.Context, key string) (Entry, error) {
	m.mu.Lock()
	m.sweepLocked()
	if e, ok := m.entries[key]; ok {
		snap := e.Entry
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	if strings.HasSuffix(key, ".iso") {
		if path, kind, ok := m.findISO(key); ok {
			info, err := os.Stat(path)
			if err != nil {
				return Entry{}, err
			}
			return Entry{Key: key, Kind: kind, Name: key, State: StateCompleted, Progress: 100, Path: path, BytesDone: info.Size()}, nil
		}
		return Entry{Key: key, State: StateNotFound}, nil
	}

	image := imageFromKey(key)
	exists, err := m.runtime.ImageExists(ctx, image)
	if err != nil {
		return Entry{}, err
	}
	if exists {
		return Entry{Key: key, Kind: KindImage, Name: image, State: StateCompleted, Progress: 100}, nil
	}
	return Entry{Key: key, Kind: KindImage, Name: image, State: StateNotFound}, nil
}

// ListActive snapshots every tracked job, including terminal entries
// whose grace has not lapsed yet.
func (m *Manager) ListActive() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Cancel aborts an in-flight job. Pull entries flip to cancelled and
// linger for the grace period; download workers remove their partial
// files and drop the entry as soon as they notice.
func (m *Manager) Cancel(key string) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok || terminal(e.State) {
		m.mu.Unlock()
		return models.NotFoundf("no active cache job %q", key)
	}
	e.State = StateCancelled
	e.evictAt = m.now().Add(m.grace)
	stop := e.stop
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.Log.WithField("key", key).Info("cache job cancelled")
	return nil
}

// Delete removes a cached artifact by key. Deleting a key with a live
// job cancels the job instead; its worker cleans up the partial file.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return models.Validationf("invalid cache key %q", key)
	}

	m.mu.Lock()
	if e, ok := m.entries[key]; ok && !terminal(e.State) {
		stop := e.stop
		// Workers treat a missing entry as a cancel request.
		delete(m.entries, key)
		m.mu.Unlock()
		if stop != nil {
			stop()
		}
		return nil
	}
	delete(m.entries, key)
	m.mu.Unlock()

	if strings.HasSuffix(key, ".iso") {
		path, kind, ok := m.findISO(key)
		if !ok {
			return models.NotFoundf("no cached file %q", key)
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		if kind == KindCustomISO {
			m.dropMetadata(key)
		}
		m.Log.WithField("path", path).Info("removed cached ISO")
		return nil
	}

	image := imageFromKey(key)
	exists, err := m.runtime.ImageExists(ctx, image)
	if err != nil {
		return err
	}
	if !exists {
		return models.NotFoundf("image %q is not cached", image)
	}
	if err := m.runtime.RemoveImage(ctx, image); err != nil {
		return err
	}
	m.Log.WithField("image", image).Info("removed cached image")
	return nil
}

// CachedPath returns the on-disk location of an ISO if present.
// version is the catalog code for windows and linux kinds, or the
// user-supplied name for custom ISOs.
func (m *Manager) CachedPath(kind Kind, version string) (string, bool) {
	path := m.isoPath(kind, isoKey(kind, version))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// Catalog lists the known guest versions for kind, marking the ones
// already on disk.
func (m *Manager) Catalog(kind Kind) ([]CatalogEntry, error) {
	var entries []CatalogEntry
	switch kind {
	case KindWindowsISO:
		entries = WindowsVersions()
	case KindLinuxISO:
		entries = LinuxDistros()
	default:
		return nil, models.Validationf("no catalog for cache kind %q", kind)
	}
	for i := range entries {
		if path, ok := m.CachedPath(kind, entries[i].Version); ok {
			entries[i].Cached = true
			entries[i].Path = path
		}
	}
	return entries, nil
}

func isoKey(kind Kind, version string) string {
	switch kind {
	case KindWindowsISO:
		return "windows-" + version + ".iso"
	case KindLinuxISO:
		return "linux-" + version + ".iso"
	default:
		return sanitizeFilename(version)
	}
}

func (m *Manager) isoPath(kind Kind, key string) string {
	switch kind {
	case KindLinuxISO:
		return filepath.Join(m.root, linuxDir, key)
	case KindCustomISO:
		return filepath.Join(m.root, customDir, key)
	default:
		return filepath.Join(m.root, windowsDir, key)
	}
}

// findISO locates key in any of the ISO directories. Keys carrying
// path separators never match.
func (m *Manager) findISO(key string) (string, Kind, bool) {
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", "", false
	}
	dirs := []struct {
		dir  string
		kind Kind
	}{
		{windowsDir, KindWindowsISO},
		{linuxDir, KindLinuxISO},
		{customDir, KindCustomISO},
	}
	for _, d := range dirs {
		path := filepath.Join(m.root, d.dir, key)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, d.kind, true
		}
	}
	return "", "", false
}

// Sweep drops terminal registry entries whose grace period has passed.
// The lifecycle methods sweep opportunistically; a periodic call keeps
// the registry from holding finished entries nobody polls anymore.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
}

// sweepLocked drops terminal entries whose grace period has passed.
// Callers hold mu.
func (m *Manager) sweepLocked() {
	now := m.now()
	for key, e := range m.entries {
		if !e.evictAt.IsZero() && now.After(e.evictAt) {
			delete(m.entries, key)
		}
	}
}

// update applies fn to the entry for key under the lock. It reports
// false when the entry no longer exists.
func (m *Manager) update(key string, fn func(*entry)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return false
	}
	fn(e)
	return true
}

// cancelRequested reports whether key was cancelled or its entry
// deleted while the job was running.
func (m *Manager) cancelRequested(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return !ok || e.State == StateCancelled
}

func (m *Manager) complete(key, path string) {
	m.update(key, func(e *entry) {
		e.State = StateCompleted
		e.Progress = 100
		e.Path = path
		e.Error = ""
		e.evictAt = m.now().Add(m.grace)
	})
}

func (m *Manager) fail(key string, err error) {
	m.Log.WithField("key", key).Errorf("cache job failed: %v", err)
	m.update(key, func(e *entry) {
		e.State = StateFailed
		e.Error = err.Error()
		e.evictAt = m.now().Add(m.grace)
	})
}

func (m *Manager) markCancelled(key string) {
	m.update(key, func(e *entry) {
		e.State = StateCancelled
		e.evictAt = m.now().Add(m.grace)
	})
}

func (m *Manager) evict(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}
