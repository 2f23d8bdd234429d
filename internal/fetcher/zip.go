package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// fetchZip extracts a local .zip archive into dest and mounts the extracted
// root. If the archive wraps everything in a single top-level directory,
// that directory becomes the package root.
func (f *Fetcher) fetchZip(location, dest string) error {
	if !filepath.IsAbs(location) {
		return fetchErrf(true, "zip location %q must be an absolute path", location)
	}
	r, err := zip.OpenReader(location)
	if err != nil {
		return fetchErrf(true, "open zip %q: %v", location, err)
	}
	defer r.Close() //nolint:errcheck

	root := commonZipRoot(r.File)
	for _, file := range r.File {
		rel := file.Name
		if root != "" {
			rel = strings.TrimPrefix(rel, root+"/")
			if rel == root || rel == "" {
				continue
			}
		}
		// Reject entries escaping the destination.
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fetchErrf(true, "zip %q: illegal entry path %q", location, file.Name)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fetchErrf(false, "extract %q: %v", file.Name, err)
			}
			continue
		}
		if err := extractZipFile(file, target); err != nil {
			return fetchErrf(false, "extract %q: %v", file.Name, err)
		}
	}
	return nil
}

// commonZipRoot returns the single top-level directory shared by every
// entry, or "" when entries live at the archive root.
func commonZipRoot(files []*zip.File) string {
	root := ""
	for _, file := range files {
		top, _, found := strings.Cut(file.Name, "/")
		if !found || top == "." || top == ".." {
			return "" // file at archive root, or not a plain directory
		}
		if root == "" {
			root = top
		} else if root != top {
			return ""
		}
	}
	return root
}

func extractZipFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck

	w, err := os.Create(target) //nolint:gosec
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil { //nolint:gosec // archive is operator-provided
		w.Close() //nolint:errcheck
		return err
	}
	return w.Close()
}
