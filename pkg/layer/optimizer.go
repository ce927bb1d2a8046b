// Package layer shrinks an installed-packages directory before it is zipped
// into a function layer.
//
// The optimizer runs two passes over the tree. The library pass removes
// selected parts of named packages; the general pass rewrites dist-info
// metadata and deletes license files and example directories anywhere.
// Both passes skip targets that do not exist, so running twice leaves the
// same tree as running once.
//
// All filesystem access goes through go-billy, so the optimizer runs against
// a real directory (osfs) or an in-memory tree (memfs) alike.
package layer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"
)

// ErrPackagesDirNotFound is returned when the packages root does not exist.
// No file is touched in that case.
var ErrPackagesDirNotFound = errors.New("packages directory does not exist")

const rootDir = "/"

// Options configures an optimizer run.
type Options struct {
	// Rules replaces DefaultRules when set.
	Rules *Rules

	// DryRun reports what would be removed without changing anything.
	DryRun bool

	// Output receives progress lines. Defaults to io.Discard.
	Output io.Writer

	// Logger receives structured debug and summary logs. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Removal is one deleted file or directory.
type Removal struct {
	// Path is slash-separated and relative to the packages root.
	Path string

	// Size is the file size, or the total of all regular files for a directory.
	Size int64

	Dir bool
}

// Report summarises a run.
type Report struct {
	DryRun bool

	// Removed lists deleted entries in removal order.
	Removed []Removal

	// MetadataRewritten lists the METADATA files that were overwritten.
	MetadataRewritten []string

	// ReclaimedBytes totals removed sizes and metadata shrinkage.
	ReclaimedBytes int64

	Duration time.Duration
}

// Entries returns the number of removed files and directories.
func (r *Report) Entries() int {
	return len(r.Removed)
}

func (r *Report) add(rm Removal) {
	r.Removed = append(r.Removed, rm)
	r.ReclaimedBytes += rm.Size
}

// covers reports whether path was already removed in this run, directly or
// as part of a removed directory.
func (r *Report) covers(path string) bool {
	rel := relPath(path)
	for _, rm := range r.Removed {
		if rel == rm.Path || (rm.Dir && strings.HasPrefix(rel, rm.Path+"/")) {
			return true
		}
	}
	return false
}

// Optimizer applies Rules to one packages tree.
//
// An Optimizer is not safe for concurrent use.
type Optimizer struct {
	fs     billy.Filesystem
	rules  Rules
	dryRun bool
	out    io.Writer
	logger *zap.Logger
	report *Report
}

// New creates an optimizer rooted at the filesystem's root.
func New(fs billy.Filesystem, opts Options) *Optimizer {
	o := &Optimizer{
		fs:     fs,
		rules:  DefaultRules(),
		dryRun: opts.DryRun,
		out:    io.Discard,
		logger: zap.NewNop(),
	}
	if opts.Rules != nil {
		o.rules = *opts.Rules
	}
	if opts.Output != nil {
		o.out = opts.Output
	}
	if opts.Logger != nil {
		o.logger = opts.Logger
	}
	return o
}

// OptimizeDir runs the optimizer against a directory on the local disk.
//
// A symlinked dir is resolved first so the tree below its target is optimized.
func OptimizeDir(ctx context.Context, dir string, opts Options) (*Report, error) {
	root := dir
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		root = resolved
	}
	report, err := New(osfs.New(root), opts).Run(ctx)
	if errors.Is(err, ErrPackagesDirNotFound) {
		return report, fmt.Errorf("%w: %s", err, dir)
	}
	return report, err
}

// Run applies the library pass then the general pass.
//
// The returned report is never nil and reflects the work done before any error.
func (o *Optimizer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	o.report = &Report{DryRun: o.dryRun}
	defer func() { o.report.Duration = time.Since(start) }()

	info, err := o.fs.Stat(rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return o.report, ErrPackagesDirNotFound
		}
		return o.report, fmt.Errorf("stat packages directory: %w", err)
	}
	if !info.IsDir() {
		return o.report, fmt.Errorf("%w (not a directory)", ErrPackagesDirNotFound)
	}

	o.printf("Optimizing %s library...\n", o.rules.Label)
	if err := o.libraryPass(ctx); err != nil {
		return o.report, err
	}

	o.printf("Applying general optimizations...\n")
	if err := o.generalPass(ctx); err != nil {
		return o.report, err
	}

	o.printf("Layer optimization completed\n")
	o.logger.Info("Layer optimization completed",
		zap.Bool("dry_run", o.dryRun),
		zap.Int("removed", o.report.Entries()),
		zap.Int("metadata_rewritten", len(o.report.MetadataRewritten)),
		zap.Int64("reclaimed_bytes", o.report.ReclaimedBytes))

	return o.report, nil
}

func (o *Optimizer) libraryPass(ctx context.Context) error {
	for _, lib := range o.rules.Libraries {
		libDir := filepath.Join(rootDir, lib.Name)
		info, err := o.stat(libDir)
		if err != nil {
			return err
		}
		if info == nil || !info.IsDir() {
			o.logger.Debug("Library not installed", zap.String("library", lib.Name))
			continue
		}

		for _, d := range lib.RemoveDirs {
			target := filepath.Join(libDir, filepath.FromSlash(d))
			info, err := o.stat(target)
			if err != nil {
				return err
			}
			if info == nil || !info.IsDir() || o.report.covers(target) {
				continue
			}
			if err := o.removeDir(ctx, target); err != nil {
				return err
			}

			label := lib.Name + "." + strings.ReplaceAll(strings.Trim(d, "/"), "/", ".")
			if o.dryRun {
				o.printf("  Would remove %s\n", label)
			} else {
				o.printf("  Removed %s\n", label)
			}
		}

		if len(lib.RemoveFiles) == 0 {
			continue
		}
		var files []Removal
		err = o.walk(ctx, libDir, func(path string, info os.FileInfo) error {
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(libDir, path)
			if err != nil {
				return err
			}
			if !matchAny(lib.RemoveFiles, filepath.ToSlash(rel)) {
				return nil
			}
			isFile, err := o.isFile(path, info)
			if err != nil {
				return err
			}
			if isFile {
				files = append(files, Removal{Path: path, Size: info.Size()})
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := o.removeFile(f.Path, f.Size); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Optimizer) generalPass(ctx context.Context) error {
	g := o.rules.General

	if g.DistInfo != "" && g.Metadata != "" {
		if err := o.rewriteMetadata(g.DistInfo, g.Metadata); err != nil {
			return err
		}
	}

	if len(g.RemoveFiles) == 0 && len(g.RemoveDirs) == 0 {
		return nil
	}

	var files []Removal
	var dirs []string
	err := o.walk(ctx, rootDir, func(path string, info os.FileInfo) error {
		if path == rootDir {
			return nil
		}
		if info.IsDir() {
			if matchAny(g.RemoveDirs, info.Name()) {
				dirs = append(dirs, path)
				return filepath.SkipDir
			}
			return nil
		}
		if !matchAny(g.RemoveFiles, info.Name()) {
			return nil
		}
		isFile, err := o.isFile(path, info)
		if err != nil {
			return err
		}
		if isFile {
			files = append(files, Removal{Path: path, Size: info.Size()})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := o.removeFile(f.Path, f.Size); err != nil {
			return err
		}
	}
	for _, d := range dirs {
		if err := o.removeDir(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (o *Optimizer) rewriteMetadata(pattern, content string) error {
	entries, err := o.fs.ReadDir(rootDir)
	if err != nil {
		return fmt.Errorf("read packages directory: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ok, _ := doublestar.Match(pattern, e.Name()); !ok {
			continue
		}

		meta := filepath.Join(rootDir, e.Name(), "METADATA")
		info, err := o.stat(meta)
		if err != nil {
			return err
		}
		if info == nil || info.IsDir() {
			continue
		}

		if !o.dryRun {
			if err := util.WriteFile(o.fs, meta, []byte(content), info.Mode().Perm()); err != nil {
				return fmt.Errorf("rewrite %s: %w", relPath(meta), err)
			}
		}
		o.report.MetadataRewritten = append(o.report.MetadataRewritten, relPath(meta))
		if shrink := info.Size() - int64(len(content)); shrink > 0 {
			o.report.ReclaimedBytes += shrink
		}
		o.logger.Debug("Rewrote metadata", zap.String("path", relPath(meta)))
	}
	return nil
}

func (o *Optimizer) removeFile(path string, size int64) error {
	if !o.dryRun {
		if err := o.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", relPath(path), err)
		}
	}
	o.report.add(Removal{Path: relPath(path), Size: size})
	o.logger.Debug("Removed file", zap.String("path", relPath(path)), zap.Int64("bytes", size))
	return nil
}

func (o *Optimizer) removeDir(ctx context.Context, path string) error {
	size, err := o.treeSize(ctx, path)
	if err != nil {
		return err
	}
	if !o.dryRun {
		if err := util.RemoveAll(o.fs, path); err != nil {
			return fmt.Errorf("remove %s: %w", relPath(path), err)
		}
	}
	o.report.add(Removal{Path: relPath(path), Size: size, Dir: true})
	o.logger.Debug("Removed directory", zap.String("path", relPath(path)), zap.Int64("bytes", size))
	return nil
}

func (o *Optimizer) treeSize(ctx context.Context, dir string) (int64, error) {
	var total int64
	err := o.walk(ctx, dir, func(_ string, info os.FileInfo) error {
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// walk visits root and everything below it, skipping entries already removed
// by this run. Walk errors abort the run.
//
// root itself is resolved with Stat so a symlinked directory is descended
// into; entries below it are visited with Lstat and symlinked directories
// are not followed.
func (o *Optimizer) walk(ctx context.Context, root string, fn func(path string, info os.FileInfo) error) error {
	visit := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", relPath(path), err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.report.covers(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(path, info)
	}

	info, err := o.fs.Stat(root)
	if err := visit(root, info, err); err != nil || !info.IsDir() {
		if errors.Is(err, filepath.SkipDir) {
			return nil
		}
		return err
	}

	entries, err := o.fs.ReadDir(root)
	if err != nil {
		return fmt.Errorf("walk %s: %w", relPath(root), err)
	}
	for _, e := range entries {
		if err := util.Walk(o.fs, o.fs.Join(root, e.Name()), visit); err != nil {
			return err
		}
	}
	return nil
}

// isFile reports whether path is a regular file or a symlink to one.
func (o *Optimizer) isFile(path string, info os.FileInfo) (bool, error) {
	if info.Mode().IsRegular() {
		return true, nil
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return false, nil
	}
	target, err := o.stat(path)
	if err != nil {
		return false, err
	}
	return target != nil && target.Mode().IsRegular(), nil
}

// stat returns nil info without error when path does not exist.
func (o *Optimizer) stat(path string) (os.FileInfo, error) {
	info, err := o.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", relPath(path), err)
	}
	return info, nil
}

func (o *Optimizer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(o.out, format, args...)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func relPath(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(path), "/")
}
