// Package drfemitter writes the generated Django REST Framework modules into
// an app directory.
package drfemitter

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/mark3labs/swagger2drf/internal/codegen"
	genspec "github.com/mark3labs/swagger2drf/internal/spec"
)

const fileMode os.FileMode = 0o644

// Options controls where and how the modules are written.
type Options struct {
	OutDir  string // required; the Django app directory
	Force   bool   // overwrite generated modules that already exist
	DryRun  bool   // don't write, only plan
	Codegen codegen.Options
	Logger  *slog.Logger
}

// PlannedFile describes a file the emitter intends to write.
type PlannedFile struct {
	RelPath string
	Size    int
	Mode    os.FileMode
	// Exists is set when the file is already present and will be replaced.
	Exists bool
}

type Result struct {
	OutDir  string
	Planned []PlannedFile
}

// Emit generates views.py, urls.py and serializers.py for c. Other files in
// OutDir, such as the handler module, are never touched.
func Emit(ctx context.Context, c *genspec.Contract, opts Options) (*Result, error) {
	if c == nil {
		return nil, errors.New("drfemitter: nil contract")
	}
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, errors.New("drfemitter: OutDir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Codegen.Logger == nil {
		opts.Codegen.Logger = logger
	}

	abs, err := filepath.Abs(opts.OutDir)
	if err != nil {
		return nil, errors.Wrap(err, "drfemitter: resolve output directory")
	}

	bundle, err := codegen.Generate(c, opts.Codegen)
	if err != nil {
		return nil, errors.Wrap(err, "drfemitter: generate")
	}

	artifacts := bundle.Artifacts()
	planned := make([]PlannedFile, 0, len(artifacts))
	for _, a := range artifacts {
		_, statErr := os.Stat(filepath.Join(abs, a.Name))
		planned = append(planned, PlannedFile{
			RelPath: a.Name,
			Size:    len(a.Text()),
			Mode:    fileMode,
			Exists:  statErr == nil,
		})
	}

	if err := validateOutputDirectory(abs, planned, opts.Force); err != nil {
		return nil, err
	}
	res := &Result{OutDir: abs, Planned: planned}
	if opts.DryRun {
		return res, nil
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "drfemitter: create %s", abs)
	}
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := writeFileAtomic(abs, a.Name, []byte(a.Text())); err != nil {
			return nil, errors.Wrapf(err, "drfemitter: write file %s", a.Name)
		}
		logger.Debug("wrote module", "file", filepath.Join(abs, a.Name))
	}
	return res, nil
}

// validateOutputDirectory checks that absPath is usable and that no generated
// module would be replaced without force.
func validateOutputDirectory(absPath string, planned []PlannedFile, force bool) error {
	stat, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "cannot access output directory %q", absPath)
	}
	if !stat.IsDir() {
		return errors.Errorf("output path %q is not a directory", absPath)
	}
	if force {
		return nil
	}
	var existing []string
	for _, p := range planned {
		if p.Exists {
			existing = append(existing, p.RelPath)
		}
	}
	if len(existing) > 0 {
		return errors.Errorf("output directory %q already contains %s (use --force to overwrite)",
			absPath, strings.Join(existing, ", "))
	}
	return nil
}

// writeFileAtomic writes content to a temp file next to the target and renames
// it into place.
func writeFileAtomic(baseDir, relPath string, content []byte) error {
	fullPath := filepath.Join(baseDir, relPath)
	dir := filepath.Dir(fullPath)

	tmpFile, err := os.CreateTemp(dir, ".tmp-drfemitter-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", relPath)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
		}
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(content); err != nil {
		return errors.Wrap(err, "write content to temp file")
	}
	if err := tmpFile.Sync(); err != nil {
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmpFile.Chmod(fileMode); err != nil {
		return errors.Wrap(err, "set file permissions")
	}
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, fullPath); err != nil {
		return errors.Wrapf(err, "rename %s to %s", tmpPath, fullPath)
	}
	success = true
	return nil
}
