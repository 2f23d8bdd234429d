// Package fetcher materializes package source trees from their configured
// locations into the publisher working directory.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"malloy-publisher/internal/domain"
)

// DefaultTimeout bounds a single package fetch.
const DefaultTimeout = 5 * time.Minute

// Fetcher implements domain.PackageFetcher with scheme dispatch:
// https:// and git@ clone, gs:// and s3:// prefix copies, absolute local
// paths (mounted by copy), and .zip archives (extracted first).
type Fetcher struct {
	publisherPath string
	timeout       time.Duration
	logger        *slog.Logger
}

var _ domain.PackageFetcher = (*Fetcher)(nil)

// New creates a Fetcher rooted at publisherPath.
func New(publisherPath string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		publisherPath: publisherPath,
		timeout:       DefaultTimeout,
		logger:        logger,
	}
}

// Fetch materializes the package at <publisherPath>/<project>/<package> and
// returns that directory. Re-fetching overwrites any previous contents.
func (f *Fetcher) Fetch(ctx context.Context, projectName, packageName, location string) (string, error) {
	if location == "" {
		return "", domain.ErrFetch(true, "package '%s': location is required", packageName)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	dest := filepath.Join(f.publisherPath, projectName, packageName)
	if err := os.RemoveAll(dest); err != nil {
		return "", domain.ErrFetch(false, "clear working directory %s: %v", dest, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", domain.ErrFetch(false, "create working directory %s: %v", dest, err)
	}

	f.logger.Info("fetching package", "project", projectName, "package", packageName, "location", location)

	var err error
	switch {
	case strings.HasPrefix(location, "https://"), strings.HasPrefix(location, "git@"):
		err = f.fetchGit(ctx, location, dest)
	case strings.HasPrefix(location, "gs://"):
		err = f.fetchGCS(ctx, location, dest)
	case strings.HasPrefix(location, "s3://"):
		err = f.fetchS3(ctx, location, dest)
	case strings.HasSuffix(location, ".zip"):
		err = f.fetchZip(location, dest)
	case filepath.IsAbs(location):
		err = f.fetchLocal(location, dest)
	default:
		err = domain.ErrFetch(true, "package '%s': unsupported location %q", packageName, location)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", domain.ErrFetch(false, "fetch %q timed out after %s", location, f.timeout)
		}
		return "", err
	}
	return dest, nil
}

// fetchLocal mounts an absolute local path by copying its tree.
func (f *Fetcher) fetchLocal(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return domain.ErrFetch(true, "local path %q: %v", src, err)
	}
	if !info.IsDir() {
		return domain.ErrFetch(true, "local path %q is not a directory", src)
	}
	if err := copyTree(src, dest); err != nil {
		return domain.ErrFetch(false, "copy %q: %v", src, err)
	}
	return nil
}

// copyTree copies src into dest, preserving relative layout.
func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil // skip sockets, symlinks, devices
		}
		data, err := os.ReadFile(path) //nolint:gosec
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644) //nolint:gosec
	})
}

func fetchErrf(badURI bool, format string, args ...interface{}) error {
	return domain.ErrFetch(badURI, "%s", fmt.Sprintf(format, args...))
}
