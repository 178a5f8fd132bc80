package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/artifacts"
	"github.com/cyroid/cyroid/pkg/authz"
	"github.com/cyroid/cyroid/pkg/cache"
	"github.com/cyroid/cyroid/pkg/config"
	"github.com/cyroid/cyroid/pkg/journal"
	"github.com/cyroid/cyroid/pkg/log"
	"github.com/cyroid/cyroid/pkg/msel"
	"github.com/cyroid/cyroid/pkg/orchestrator"
	"github.com/cyroid/cyroid/pkg/provision"
	"github.com/cyroid/cyroid/pkg/runtime"
	"github.com/cyroid/cyroid/pkg/session"
	"github.com/cyroid/cyroid/pkg/store"
	"github.com/cyroid/cyroid/pkg/tasks"
	"github.com/cyroid/cyroid/pkg/utils"
)

// cacheSweepInterval is how often finished ISO jobs are dropped from the
// cache registry.
const cacheSweepInterval = time.Minute

// App struct
type App struct {
	closers []io.Closer

	Config       *config.AppConfig
	Log          *logrus.Entry
	OSCommand    *utils.OSCommand
	Repo         store.Repository
	Runtime      runtime.ContainerRuntime
	Cache        *cache.Manager
	Provisioner  *provision.Provisioner
	Journal      *journal.Journal
	Orchestrator *orchestrator.Orchestrator
	Artifacts    *artifacts.Library
	MSEL         *msel.Engine
	Session      *session.Server
	TaskManager  *tasks.TaskManager

	blobs artifacts.BlobStore
}

// NewApp bootstraps the whole daemon: storage, container runtime, ISO
// cache, orchestrator, MSEL engine and the websocket session server.
// Everything that dials lazily is constructed here; sockets are only
// exercised once Run pings the engine.
func NewApp(config *config.AppConfig) (*App, error) {
	app := &App{
		closers: []io.Closer{},
		Config:  config,
	}
	app.Log = log.NewLogger(config)
	app.OSCommand = utils.NewOSCommand(app.Log)

	cfg := config.UserConfig

	var err error
	app.Repo, err = newRepository(cfg)
	if err != nil {
		return app, err
	}
	app.closers = append(app.closers, app.Repo)

	app.Runtime, err = runtime.New(context.Background(), app.Log, cfg.RuntimeMode, "")
	if err != nil {
		return app, err
	}
	app.closers = append(app.closers, app.Runtime)

	app.Cache, err = cache.NewManager(app.Log, app.Runtime, app.OSCommand, cfg.ISOCacheDir, cfg.DownloadTimeout)
	if err != nil {
		return app, err
	}

	app.Provisioner = provision.NewProvisioner(app.Log, app.OSCommand, provision.Paths{
		VMStorageDir:       cfg.VMStorageDir,
		TemplateStorageDir: cfg.TemplateStorageDir,
		GlobalSharedDir:    cfg.GlobalSharedDir,
	}, app.Cache, cfg.RoutingNetwork)

	app.Journal = journal.New(app.Log, app.Repo)
	app.Orchestrator = orchestrator.New(app.Log, app.Repo, app.Runtime, app.Provisioner, app.Journal, cfg.RoutingNetwork, int(cfg.StopGrace.Seconds()))

	app.blobs, err = artifacts.NewMinIOStore(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL)
	if err != nil {
		return app, err
	}
	app.Artifacts = artifacts.NewLibrary(app.Log, app.Repo, app.Runtime, app.Journal, app.blobs)

	app.MSEL = msel.NewEngine(app.Log, app.Repo, app.Runtime, authz.NewFilter(app.Log), app.Journal, app.Artifacts)
	app.Session = session.NewServer(app.Log, app.Repo, app.Runtime, session.NewRepoAuthenticator(app.Repo), cfg.RoutingNetwork, cfg.StatusPoll)

	app.TaskManager = tasks.NewTaskManager(app.Log)
	app.closers = append(app.closers, app.TaskManager)

	return app, nil
}

func newRepository(cfg *config.UserConfig) (store.Repository, error) {
	if cfg.DatabaseURL == config.MemoryDatabase {
		return store.NewMemory(), nil
	}
	repo, err := store.NewBolt(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabaseURL, err)
	}
	return repo, nil
}

// Run serves websocket sessions until the listener fails or the process
// is told to stop. The engine is pinged first so a dead socket surfaces
// as a friendly startup error instead of failing every operation later.
func (app *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := app.Runtime.Ping(pingCtx); err != nil {
		return err
	}

	if err := app.blobs.Ensure(ctx); err != nil {
		// artifact uploads will fail until the store comes back; range
		// lifecycle work does not depend on it
		app.Log.WithError(err).Warn("artifact store unavailable")
	}

	app.TaskManager.NewTickerTask("cache-sweep", cacheSweepInterval, nil, func(stop, notifyStopped chan struct{}) {
		app.Cache.Sweep()
	})

	srv := &http.Server{
		Addr:              app.Config.UserConfig.ListenAddr,
		Handler:           app.Session.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	app.Log.WithField("addr", srv.Addr).Info("session server listening")

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		app.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (app *App) Close() error {
	return utils.CloseMany(app.closers)
}

type errorMapping struct {
	originalError string
	newError      string
}

// KnownError takes an error and tells us whether it's an error that we know about where we can print a nicely formatted version of it rather than panicking with a stack trace
func (app *App) KnownError(err error) (string, bool) {
	errorMessage := err.Error()

	mappings := []errorMapping{
		{
			originalError: "Got permission denied while trying to connect to the Docker daemon socket",
			newError:      "Cannot access the container engine socket. Check that your user can reach /var/run/docker.sock.",
		},
		{
			originalError: "Cannot connect to the Docker daemon",
			newError:      "Cannot reach the container engine. Check that it is running.",
		},
		{
			originalError: "unable to connect to Podman",
			newError:      "Cannot reach the Podman service. Check that the podman socket is enabled.",
		},
		{
			originalError: "open database",
			newError:      "The database file is locked or unreadable. Is another cyroid instance running?",
		},
	}

	for _, mapping := range mappings {
		if strings.Contains(errorMessage, mapping.originalError) {
			return mapping.newError, true
		}
	}

	return "", false
}
