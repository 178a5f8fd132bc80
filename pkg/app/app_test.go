package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyroid/cyroid/pkg/config"
	"github.com/cyroid/cyroid/pkg/models"
)

// testAppConfig builds a config rooted in temp dirs. An empty databaseURL
// keeps the default bolt file under the temp config dir.
func testAppConfig(t *testing.T, databaseURL string) *config.AppConfig {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if databaseURL != "" {
		t.Setenv("CYROID_DATABASE_URL", databaseURL)
	}

	conf, err := config.NewAppConfig("cyroid", "test-version", "test-commit", "test-date", "test-build-source", false, "")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	return conf
}

func TestNewAppWiresEverything(t *testing.T) {
	conf := testAppConfig(t, config.MemoryDatabase)

	app, err := NewApp(conf)
	assert.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Log)
	assert.NotNil(t, app.OSCommand)
	assert.NotNil(t, app.Repo)
	assert.NotNil(t, app.Runtime)
	assert.NotNil(t, app.Cache)
	assert.NotNil(t, app.Provisioner)
	assert.NotNil(t, app.Journal)
	assert.NotNil(t, app.Orchestrator)
	assert.NotNil(t, app.Artifacts)
	assert.NotNil(t, app.MSEL)
	assert.NotNil(t, app.Session)
	assert.NotNil(t, app.TaskManager)

	assert.Equal(t, "docker", app.Runtime.Mode())
}

func TestNewAppMemoryRepositoryLeavesNoFile(t *testing.T) {
	conf := testAppConfig(t, config.MemoryDatabase)

	app, err := NewApp(conf)
	assert.NoError(t, err)
	defer app.Close()

	ctx := context.Background()
	user := &models.User{ID: "user-1", Username: "ops", Approved: true, Active: true}
	assert.NoError(t, app.Repo.CreateUser(ctx, user))

	got, err := app.Repo.GetUser(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, "ops", got.Username)

	_, err = os.Stat(filepath.Join(conf.ConfigDir, "cyroid.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestNewAppOpensBoltRepository(t *testing.T) {
	conf := testAppConfig(t, "")

	app, err := NewApp(conf)
	assert.NoError(t, err)
	defer app.Close()

	ctx := context.Background()
	user := &models.User{ID: "user-1", Username: "ops", Approved: true, Active: true}
	assert.NoError(t, app.Repo.CreateUser(ctx, user))

	if _, err := os.Stat(filepath.Join(conf.ConfigDir, "cyroid.db")); err != nil {
		t.Fatalf("Expected the bolt file to exist: %s", err)
	}
}

func TestNewAppReportsLockedDatabase(t *testing.T) {
	conf := testAppConfig(t, "")

	first, err := NewApp(conf)
	assert.NoError(t, err)
	defer first.Close()

	// bolt holds an exclusive file lock, so a second open times out
	second, err := NewApp(conf)
	assert.Error(t, err)

	message, known := second.KnownError(err)
	assert.True(t, known)
	assert.Contains(t, message, "another cyroid instance")
}

func TestKnownError(t *testing.T) {
	app := &App{}

	scenarios := []struct {
		name        string
		err         error
		expectKnown bool
	}{
		{
			name:        "engine socket permission",
			err:         errors.New("Got permission denied while trying to connect to the Docker daemon socket at unix:///var/run/docker.sock"),
			expectKnown: true,
		},
		{
			name:        "engine not running",
			err:         errors.New("Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?"),
			expectKnown: true,
		},
		{
			name:        "podman socket down",
			err:         errors.New("unable to connect to Podman socket: dial unix /run/podman/podman.sock"),
			expectKnown: true,
		},
		{
			name:        "database locked",
			err:         errors.New("open database /var/lib/cyroid/cyroid.db: timeout"),
			expectKnown: true,
		},
		{
			name:        "anything else",
			err:         errors.New("some unknown error message"),
			expectKnown: false,
		},
	}

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			message, known := app.KnownError(s.err)
			assert.Equal(t, s.expectKnown, known)
			if s.expectKnown {
				assert.NotEmpty(t, message)
			} else {
				assert.Empty(t, message)
			}
		})
	}
}
