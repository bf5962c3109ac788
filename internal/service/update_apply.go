package service

import (
	"bytes"
	"context"
	"fmt"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
	"lifeboat/internal/archive"
	"lifeboat/internal/types"
	"lifeboat/logger"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	packageFile         = "package.tar.gz"
	packageManifestFile = "manifest.yaml"
	packageFilesDir     = "files"

	hookTimeout = 10 * time.Minute
	mb          = 1 << 20
)

// packageManifest is the optional manifest.yaml at the root of an update package.
type packageManifest struct {
	Version           string   `yaml:"version"`
	DatabaseMigration bool     `yaml:"database_migration"`
	PreUpdate         []string `yaml:"pre_update"`
	PostUpdate        []string `yaml:"post_update"`
	Validate          []string `yaml:"validate"`
}

// appliedFile is a file copied from the package with the size it must have.
type appliedFile struct {
	path string
	size int64
}

// apply downloads, verifies and installs the package of up. Nothing under
// the application directory is touched before the package is verified and
// the requirements are met.
func (u *updateService) apply(ctx context.Context, up *types.SystemUpdate, workDir string) error {
	if err := u.transition(ctx, up, types.UpdateStatusDownloading, nil); err != nil {
		return err
	}
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return errors.Wrap(err, "failed to create update staging directory")
	}

	pkg := filepath.Join(workDir, packageFile)
	u.progress.Phase(up.ID, "downloading", 20)
	n, err := u.downloader.Download(ctx, up.PackageURL, pkg, up.PackageSize, func(done, total int64) {
		u.progress.Update(up.ID, func(p *types.Progress) {
			p.BytesProcessed = done
			p.TotalBytes = total
			if total > 0 {
				p.Progress = 20 + int(done*30/total)
			}
		})
	})
	if err != nil {
		return errors.Wrap(err, "failed to download package")
	}

	u.progress.Phase(up.ID, "verifying package", 52)
	if up.PackageSize > 0 && n != up.PackageSize {
		return errors.Errorf("package size mismatch: expected %d bytes, got %d", up.PackageSize, n)
	}
	if up.PackageChecksum != "" {
		if err := archive.Verify(pkg, up.PackageChecksum); err != nil {
			return err
		}
	}

	u.progress.Phase(up.ID, "checking requirements", 55)
	if err := u.checkRequirements(up); err != nil {
		return err
	}

	if err := u.transition(ctx, up, types.UpdateStatusApplying, nil); err != nil {
		return err
	}

	u.progress.Phase(up.ID, "extracting", 60)
	scratch := filepath.Join(workDir, "package")
	if _, err := archive.Extract(ctx, pkg, scratch, types.CompressionGzip); err != nil {
		return errors.Wrap(err, "failed to extract package")
	}
	manifest, err := readPackageManifest(scratch)
	if err != nil {
		return err
	}
	if manifest.DatabaseMigration {
		if err := u.repository.UpdateFields(ctx, up.ID, map[string]interface{}{"database_migration": true}); err != nil {
			return err
		}
		up.DatabaseMigration = true
	}

	u.progress.Phase(up.ID, "running pre-update hooks", 65)
	if err := u.runHooks(ctx, "pre_update", manifest.PreUpdate, scratch, up); err != nil {
		return err
	}

	u.progress.Phase(up.ID, "applying files", 70)
	applied, err := u.applyFiles(ctx, up, filepath.Join(scratch, packageFilesDir))
	if err != nil {
		return err
	}

	u.progress.Phase(up.ID, "running post-update hooks", 85)
	if err := u.runHooks(ctx, "post_update", manifest.PostUpdate, scratch, up); err != nil {
		return err
	}

	u.progress.Phase(up.ID, "validating", 90)
	if err := validateApplied(applied); err != nil {
		return err
	}
	return u.runHooks(ctx, "validate", manifest.Validate, scratch, up)
}

func readPackageManifest(dir string) (packageManifest, error) {
	var manifest packageManifest
	data, err := os.ReadFile(filepath.Join(dir, packageManifestFile))
	if os.IsNotExist(err) {
		return manifest, nil
	}
	if err != nil {
		return manifest, errors.Wrap(err, "failed to read package manifest")
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return manifest, errors.Wrap(err, "invalid package manifest")
	}
	return manifest, nil
}

// checkRequirements fails fast on the first unmet requirement.
func (u *updateService) checkRequirements(up *types.SystemUpdate) error {
	req := up.Requirements
	if req.MinCurrentVersion != "" {
		if compareVersions(up.CurrentVersion, req.MinCurrentVersion) < 0 {
			return errors.Errorf("requirement not met: current version %s is older than %s", up.CurrentVersion, req.MinCurrentVersion)
		}
	}

	if lo.ContainsBy(up.Conflicts, func(v string) bool { return compareVersions(v, up.CurrentVersion) == 0 }) {
		return errors.Errorf("requirement not met: update conflicts with current version %s", up.CurrentVersion)
	}

	if req.MinFreeDiskMB > 0 {
		usage, err := disk.Usage(u.volume())
		if err != nil {
			return errors.Wrap(err, "failed to read free disk space")
		}
		if free := int64(usage.Free / mb); free < req.MinFreeDiskMB {
			return errors.Errorf("requirement not met: %d MB free on %s, %d MB required", free, usage.Path, req.MinFreeDiskMB)
		}
	}

	if req.MinMemoryMB > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return errors.Wrap(err, "failed to read available memory")
		}
		if available := int64(vm.Available / mb); available < req.MinMemoryMB {
			return errors.Errorf("requirement not met: %d MB memory available, %d MB required", available, req.MinMemoryMB)
		}
	}

	for _, dep := range up.Dependencies {
		if _, err := exec.LookPath(dep); err != nil {
			return errors.Errorf("requirement not met: dependency %s is not installed", dep)
		}
	}
	return nil
}

// volume is the closest existing directory to the application directory.
func (u *updateService) volume() string {
	dir := u.cfg.AppDir
	for dir != "" && dir != string(filepath.Separator) {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		dir = filepath.Dir(dir)
	}
	return string(filepath.Separator)
}

func (u *updateService) runHooks(ctx context.Context, stage string, hooks []string, packageDir string, up *types.SystemUpdate) error {
	for i, hook := range hooks {
		hctx, cancel := context.WithTimeout(ctx, hookTimeout)
		cmd := exec.CommandContext(hctx, "sh", "-c", hook)
		cmd.Dir = packageDir
		cmd.Env = append(os.Environ(),
			"LIFEBOAT_APP_DIR="+u.cfg.AppDir,
			"LIFEBOAT_CONFIG_DIR="+u.cfg.ConfigDir,
			"LIFEBOAT_PACKAGE_DIR="+packageDir,
			"LIFEBOAT_UPDATE_VERSION="+up.Version,
			"LIFEBOAT_CURRENT_VERSION="+up.CurrentVersion,
		)
		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output
		err := cmd.Run()
		cancel()
		if err != nil {
			return errors.Errorf("%s hook %d failed: %v: %s", stage, i+1, err, strings.TrimSpace(output.String()))
		}
		logger.Debug("update hook finished",
			zap.String("update_id", up.ID.String()),
			zap.String("stage", stage),
			zap.Int("hook", i+1))
	}
	return nil
}

// applyFiles copies the package's files/ tree over the application
// directory and returns what was written.
func (u *updateService) applyFiles(ctx context.Context, up *types.SystemUpdate, src string) ([]appliedFile, error) {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil, nil
	}
	if u.cfg.AppDir == "" {
		return nil, errors.New("application directory is not configured")
	}

	applied := make([]appliedFile, 0)
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		applied = append(applied, appliedFile{path: filepath.Join(u.cfg.AppDir, rel), size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read package files")
	}

	st, err := archive.CopyDir(ctx, src, u.cfg.AppDir, time.Time{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to apply package files")
	}
	u.progress.Update(up.ID, func(p *types.Progress) {
		p.FilesProcessed = st.Files
		p.TotalFiles = len(applied)
		p.BytesProcessed = st.Bytes
	})
	return applied, nil
}

func validateApplied(applied []appliedFile) error {
	for _, f := range applied {
		fi, err := os.Stat(f.path)
		if err != nil {
			return errors.Errorf("validation failed: %s is missing", f.path)
		}
		if fi.Size() != f.size {
			return errors.Errorf("validation failed: %s is %d bytes, expected %d", f.path, fi.Size(), f.size)
		}
	}
	return nil
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func checkVersion(v string) error {
	if !semver.IsValid(canonicalVersion(v)) {
		return errors.Wrap(types.ErrValidation, fmt.Sprintf("version %q is not a semantic version", v))
	}
	return nil
}

// compareVersions orders semantic versions; invalid versions sort first.
func compareVersions(a, b string) int {
	return semver.Compare(canonicalVersion(a), canonicalVersion(b))
}
