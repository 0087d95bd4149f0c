package fixer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cortex-ops/cortex/pkg/models"
)

const (
	logrotateTimeout    = 30 * time.Second
	packageCleanTimeout = 60 * time.Second

	tempFileMaxAge   = 3 * 24 * time.Hour
	diskTempMaxAge   = 7 * 24 * time.Hour
	rotatedLogMaxAge = 30 * 24 * time.Hour
)

func (f *Fixer) registerBuiltins() {
	f.Register("disk_space_low", "cleaned_disk_space", f.fixDiskSpace)
	f.Register("temp_files_cleanup", "cleaned_temp_files", f.fixTempFiles)
	f.Register("log_rotation_needed", "log_rotation", f.fixLogRotation)
	f.Register("cache_cleanup", "cache_cleanup", f.fixPackageCache)
	f.Register("old_package_cleanup", "package_cleanup", f.fixOldPackages)
}

// fixDiskSpace removes aged temp files and stale rotated logs. Freeing
// nothing counts as a failure: the disk pressure that triggered the issue
// is still there.
func (f *Fixer) fixDiskSpace(ctx context.Context, _ models.Issue) (map[string]any, error) {
	tmpFiles, tmpBytes, err := sweepOlderThan(ctx, f.tmpDir, diskTempMaxAge, f.now(), nil)
	if err != nil {
		return nil, fmt.Errorf("sweep %s: %w", f.tmpDir, err)
	}

	logFiles, logBytes, err := sweepOlderThan(ctx, f.logDir, rotatedLogMaxAge, f.now(), isRotatedLog)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		if tmpBytes > 0 {
			// Temp sweep already freed space, so the action is not a total loss.
			return map[string]any{
				"files_removed": tmpFiles,
				"bytes_freed":   tmpBytes,
			}, fmt.Errorf("%w: sweep %s: %v", ErrPartial, f.logDir, err)
		}
		return nil, fmt.Errorf("sweep %s: %w", f.logDir, err)
	}

	details := map[string]any{
		"files_removed": tmpFiles + logFiles,
		"bytes_freed":   tmpBytes + logBytes,
	}
	if tmpBytes+logBytes == 0 {
		return details, errors.New("no space freed")
	}
	return details, nil
}

// fixTempFiles removes temp files older than three days.
func (f *Fixer) fixTempFiles(ctx context.Context, _ models.Issue) (map[string]any, error) {
	files, bytes, err := sweepOlderThan(ctx, f.tmpDir, tempFileMaxAge, f.now(), nil)
	if err != nil {
		return nil, fmt.Errorf("sweep %s: %w", f.tmpDir, err)
	}
	return map[string]any{
		"files_removed": files,
		"bytes_freed":   bytes,
	}, nil
}

// fixLogRotation forces a logrotate pass.
func (f *Fixer) fixLogRotation(ctx context.Context, _ models.Issue) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, logrotateTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "logrotate", "-f", "/etc/logrotate.conf").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("logrotate: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return map[string]any{"command": "logrotate -f /etc/logrotate.conf"}, nil
}

// fixPackageCache clears the system package manager cache. Unlike disk
// cleanup, an already-empty cache is a success: the cache being clean is
// the goal state.
func (f *Fixer) fixPackageCache(ctx context.Context, _ models.Issue) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, packageCleanTimeout)
	defer cancel()

	var cmd *exec.Cmd
	switch {
	case commandExists("apt-get"):
		cmd = exec.CommandContext(ctx, "apt-get", "clean")
	case commandExists("yum"):
		cmd = exec.CommandContext(ctx, "yum", "clean", "all")
	default:
		return nil, errors.New("no supported package manager found")
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", cmd.Args[0], err, strings.TrimSpace(string(out)))
	}
	return map[string]any{"command": strings.Join(cmd.Args, " ")}, nil
}

// fixOldPackages removes packages nothing installed depends on anymore.
func (f *Fixer) fixOldPackages(ctx context.Context, _ models.Issue) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, packageCleanTimeout)
	defer cancel()

	var cmd *exec.Cmd
	switch {
	case commandExists("apt-get"):
		cmd = exec.CommandContext(ctx, "apt-get", "autoremove", "-y")
	case commandExists("yum"):
		cmd = exec.CommandContext(ctx, "yum", "autoremove", "-y")
	default:
		return nil, errors.New("no supported package manager found")
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", cmd.Args[0], err, strings.TrimSpace(string(out)))
	}
	return map[string]any{"command": strings.Join(cmd.Args, " ")}, nil
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// isRotatedLog matches compressed or numbered log archives, never live logs.
func isRotatedLog(name string) bool {
	if strings.HasSuffix(name, ".gz") || strings.HasSuffix(name, ".old") {
		return true
	}
	ext := filepath.Ext(name)
	if len(ext) >= 2 {
		for _, r := range ext[1:] {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}

// sweepOlderThan deletes regular files under dir whose modification time is
// older than maxAge. match, when non-nil, filters by file name. Returns the
// count of removed files and total bytes freed.
func sweepOlderThan(ctx context.Context, dir string, maxAge time.Duration, now time.Time, match func(string) bool) (int, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	cutoff := now.Add(-maxAge)
	files := 0
	var bytes int64

	for _, entry := range entries {
		if ctx.Err() != nil {
			return files, bytes, ctx.Err()
		}
		if entry.IsDir() {
			continue
		}
		if match != nil && !match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			continue
		}
		files++
		bytes += info.Size()
	}
	return files, bytes, nil
}
