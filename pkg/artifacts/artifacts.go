// Package artifacts manages the exercise file library: payloads,
// documents and configs whose bytes live in object storage and whose
// metadata rows drive placement onto range VMs.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/journal"
	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/runtime"
	"github.com/cyroid/cyroid/pkg/store"
)

// Library owns artifact uploads, downloads and placements. Blobs go to
// the object store, metadata to the repository, and placements through
// the container runtime's copy path.
type Library struct {
	Log     *logrus.Entry
	repo    store.Repository
	runtime runtime.ContainerRuntime
	journal *journal.Journal
	blobs   BlobStore
}

func NewLibrary(log *logrus.Entry, repo store.Repository, rt runtime.ContainerRuntime, jrnl *journal.Journal, blobs BlobStore) *Library {
	return &Library{
		Log:     log,
		repo:    repo,
		runtime: rt,
		journal: jrnl,
		blobs:   blobs,
	}
}

// UploadMeta carries the user-supplied fields of a new artifact. Kind
// and Indicator default to "other" and "safe" when left empty.
type UploadMeta struct {
	Name        string
	Filename    string
	ContentType string
	Kind        models.ArtifactKind
	Indicator   models.ArtifactIndicator
	TTPs        []string
	Tags        []string
	UploaderID  string
}

// Upload streams r into the object store under
// artifacts/{id}/{filename}, hashing and counting the bytes in transit,
// then persists the metadata row. A failed row write removes the blob
// again so the bucket holds no orphans.
func (l *Library) Upload(ctx context.Context, meta UploadMeta, r io.Reader) (*models.Artifact, error) {
	if strings.TrimSpace(meta.Name) == "" {
		return nil, models.Validationf("name required")
	}
	filename := path.Base(strings.TrimSpace(meta.Filename))
	if filename == "" || filename == "." || filename == ".." || filename == "/" {
		return nil, models.Validationf("invalid filename %q", meta.Filename)
	}
	kind, err := normalizeKind(meta.Kind)
	if err != nil {
		return nil, err
	}
	indicator, err := normalizeIndicator(meta.Indicator)
	if err != nil {
		return nil, err
	}
	switch _, err := l.repo.ArtifactByFilename(ctx, filename); {
	case err == nil:
		return nil, models.Conflictf("artifact filename %q already exists", filename)
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.NewString()
	objectName := fmt.Sprintf("artifacts/%s/%s", id, filename)
	hasher := sha256.New()
	size, err := l.blobs.Put(ctx, objectName, contentType, io.TeeReader(r, hasher))
	if err != nil {
		return nil, err
	}

	artifact := &models.Artifact{
		ID:          id,
		Name:        strings.TrimSpace(meta.Name),
		Filename:    filename,
		BlobPath:    objectName,
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		Size:        size,
		ContentType: contentType,
		Kind:        kind,
		Indicator:   indicator,
		TTPs:        cleanList(meta.TTPs),
		UploaderID:  meta.UploaderID,
	}
	if err := l.repo.CreateArtifact(ctx, artifact); err != nil {
		if rmErr := l.blobs.Remove(ctx, objectName); rmErr != nil {
			l.Log.WithError(rmErr).WithField("object", objectName).Warn("could not remove orphaned blob")
		}
		return nil, err
	}
	for _, tag := range cleanList(meta.Tags) {
		if err := l.repo.AddTag(ctx, &models.ResourceTag{Kind: models.KindArtifact, ResourceID: id, Tag: tag}); err != nil {
			l.Log.WithError(err).WithField("tag", tag).Warn("could not tag artifact")
		}
	}
	l.Log.WithFields(logrus.Fields{
		"artifact": artifact.Name,
		"size":     size,
	}).Info("artifact uploaded")
	return artifact, nil
}

// Download opens the stored blob. The caller owns the reader.
func (l *Library) Download(ctx context.Context, id string) (io.ReadCloser, *models.Artifact, error) {
	artifact, err := l.repo.GetArtifact(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := l.blobs.Get(ctx, artifact.BlobPath)
	if err != nil {
		return nil, nil, err
	}
	return rc, artifact, nil
}

// Delete removes the blob, then the row. A blob that cannot be removed
// is logged and the row goes anyway, the same as a bucket that was
// cleaned out from under us.
func (l *Library) Delete(ctx context.Context, id string) error {
	artifact, err := l.repo.GetArtifact(ctx, id)
	if err != nil {
		return err
	}
	if err := l.blobs.Remove(ctx, artifact.BlobPath); err != nil {
		l.Log.WithError(err).WithField("artifact", artifact.Name).Warn("could not remove blob, deleting row anyway")
	}
	return l.repo.DeleteArtifact(ctx, id)
}

// Place records that an artifact should land on a VM at targetPath. The
// copy itself happens in ExecutePlacement.
func (l *Library) Place(ctx context.Context, artifactID, vmID, targetPath string) (*models.Placement, error) {
	targetPath = path.Clean(targetPath)
	if !path.IsAbs(targetPath) {
		return nil, models.Validationf("target path %q must be absolute", targetPath)
	}
	if targetPath == "/" {
		return nil, models.Validationf("target path must include a file name")
	}
	if _, err := l.repo.GetArtifact(ctx, artifactID); err != nil {
		return nil, err
	}
	if _, err := l.repo.GetVM(ctx, vmID); err != nil {
		return nil, err
	}
	placement := &models.Placement{
		ArtifactID: artifactID,
		VMID:       vmID,
		TargetPath: targetPath,
		Status:     models.PlacementPending,
	}
	if err := l.repo.CreatePlacement(ctx, placement); err != nil {
		return nil, err
	}
	return placement, nil
}

// ExecutePlacement copies a pending placement's blob into its VM.
// Failures leave the row Failed with the error text so operators can
// see what went wrong and retry with a fresh placement.
func (l *Library) ExecutePlacement(ctx context.Context, id string) (*models.Placement, error) {
	placement, err := l.repo.GetPlacement(ctx, id)
	if err != nil {
		return nil, err
	}
	if placement.Status != models.PlacementPending {
		return nil, models.Conflictf("cannot execute placement in %s status", placement.Status)
	}
	artifact, err := l.repo.GetArtifact(ctx, placement.ArtifactID)
	if err != nil {
		return nil, err
	}
	vm, err := l.repo.GetVM(ctx, placement.VMID)
	if err != nil {
		return nil, err
	}
	if vm.Handle == "" {
		return nil, models.Conflictf("VM %q has no running container", vm.Hostname)
	}

	placement.Status = models.PlacementInProgress
	if err := l.repo.UpdatePlacement(ctx, placement); err != nil {
		return nil, err
	}

	if err := l.copyIn(ctx, artifact, vm, placement.TargetPath); err != nil {
		placement.Status = models.PlacementFailed
		placement.Error = err.Error()
		if uerr := l.repo.UpdatePlacement(ctx, placement); uerr != nil {
			l.Log.WithError(uerr).Error("could not record placement failure")
		}
		return nil, err
	}

	now := time.Now()
	placement.Status = models.PlacementPlaced
	placement.PlacedAt = &now
	placement.Error = ""
	if err := l.repo.UpdatePlacement(ctx, placement); err != nil {
		return nil, err
	}
	l.journal.Record(ctx, vm.RangeID, vm.ID, models.EventArtifactPlaced,
		fmt.Sprintf("artifact %q placed on %s at %s", artifact.Name, vm.Hostname, placement.TargetPath),
		map[string]string{"artifact_id": artifact.ID, "sha256": artifact.SHA256})
	return placement, nil
}

// PlaceByFilename resolves an artifact by its stored file name and
// copies it straight into the VM. Timeline actions use this path; no
// placement row is written because the inject itself is the record.
func (l *Library) PlaceByFilename(ctx context.Context, filename string, vm *models.VM, targetPath string) error {
	artifact, err := l.repo.ArtifactByFilename(ctx, filename)
	if err != nil {
		return err
	}
	if vm.Handle == "" {
		return models.Conflictf("VM %q has no running container", vm.Hostname)
	}
	targetPath = path.Clean(targetPath)
	if !path.IsAbs(targetPath) {
		return models.Validationf("target path %q must be absolute", targetPath)
	}
	return l.copyIn(ctx, artifact, vm, targetPath)
}

// copyIn stages the blob under the target file name and streams it into
// the container. CopyTo tars the staged file, so the name the archive
// carries is the name that lands in the target directory.
func (l *Library) copyIn(ctx context.Context, artifact *models.Artifact, vm *models.VM, targetPath string) error {
	rc, err := l.blobs.Get(ctx, artifact.BlobPath)
	if err != nil {
		return err
	}
	defer rc.Close()

	stage, err := os.MkdirTemp("", "cyroid-artifact-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stage)

	staged := filepath.Join(stage, path.Base(targetPath))
	f, err := os.Create(staged)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return l.runtime.CopyTo(ctx, vm.Handle, staged, path.Dir(targetPath))
}

func normalizeKind(kind models.ArtifactKind) (models.ArtifactKind, error) {
	switch kind {
	case "":
		return models.ArtifactOther, nil
	case models.ArtifactExecutable, models.ArtifactScript, models.ArtifactDocument,
		models.ArtifactArchive, models.ArtifactConfig, models.ArtifactOther:
		return kind, nil
	default:
		return "", models.Validationf("unknown artifact kind %q", kind)
	}
}

func normalizeIndicator(indicator models.ArtifactIndicator) (models.ArtifactIndicator, error) {
	switch indicator {
	case "":
		return models.IndicatorSafe, nil
	case models.IndicatorSafe, models.IndicatorSuspicious, models.IndicatorMalicious:
		return indicator, nil
	default:
		return "", models.Validationf("unknown malicious indicator %q", indicator)
	}
}

func cleanList(in []string) []string {
	return lo.FilterMap(in, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
}
