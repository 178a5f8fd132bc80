package provision

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/models"
)

// BuildGoldenImage captures a prepared VM's storage tree into template
// storage so later VMs can boot from it pre-installed. The VM should
// be stopped first so the disk is quiescent. Returns the golden image
// path and its size in bytes.
func (p *Provisioner) BuildGoldenImage(vm *models.VM, template *models.Template, name string) (string, int64, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", 0, models.Validationf("invalid golden image name %q", name)
	}

	src := filepath.Join(p.paths.VMStorageDir, vm.RangeID, vm.ID, "storage")
	empty, err := dirEmpty(src)
	if err != nil || empty {
		return "", 0, models.Validationf("VM %q has no storage to capture", vm.Hostname)
	}

	if !strings.HasPrefix(name, "win-") && !strings.HasPrefix(name, "linux-") {
		prefix := "linux-"
		if template.OSKind == models.OSWindows {
			prefix = "win-"
		}
		name = prefix + name
	}

	dst := filepath.Join(p.paths.TemplateStorageDir, name)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", 0, err
	}
	if err := p.copyTree(src, dst); err != nil {
		return "", 0, err
	}

	size, err := dirSize(dst)
	if err != nil {
		return "", 0, err
	}
	p.Log.WithFields(logrus.Fields{
		"name": name,
		"size": units.HumanSize(float64(size)),
	}).Info("golden image captured")
	return dst, size, nil
}

// copyTree clones src's contents into dst preserving ownership, modes
// and sparse regions, which a plain io.Copy walk would lose on qcow2
// disks.
func (p *Provisioner) copyTree(src, dst string) error {
	return p.os.RunCommand(fmt.Sprintf("cp -a %s/. %s/", p.os.Quote(src), p.os.Quote(dst)))
}

func dirEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
