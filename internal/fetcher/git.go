package fetcher

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// fetchGit shallow-clones a git repository into dest. A URL fragment names
// a subdirectory to export: https://host/repo.git#models/faa exports only
// that subtree into dest.
func (f *Fetcher) fetchGit(ctx context.Context, location, dest string) error {
	url := location
	subdir := ""
	if idx := strings.Index(location, "#"); idx >= 0 {
		url = location[:idx]
		subdir = location[idx+1:]
	}
	if url == "" {
		return fetchErrf(true, "git location %q: empty repository URL", location)
	}

	cloneDir := dest
	if subdir != "" {
		tmp, err := os.MkdirTemp("", "publisher-git-*")
		if err != nil {
			return fetchErrf(false, "git clone %q: %v", url, err)
		}
		defer os.RemoveAll(tmp) //nolint:errcheck
		cloneDir = tmp
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--quiet", url, cloneDir) //nolint:gosec
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fetchErrf(false, "git clone %q: %v: %s", url, err, strings.TrimSpace(string(out)))
	}

	if subdir != "" {
		exported := filepath.Join(cloneDir, filepath.FromSlash(subdir))
		info, err := os.Stat(exported)
		if err != nil || !info.IsDir() {
			return fetchErrf(true, "git location %q: subdirectory %q not found", location, subdir)
		}
		if err := copyTree(exported, dest); err != nil {
			return fetchErrf(false, "export %q: %v", subdir, err)
		}
	} else {
		// Drop VCS metadata from the working tree.
		_ = os.RemoveAll(filepath.Join(dest, ".git"))
	}
	return nil
}
