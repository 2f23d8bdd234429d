package domain

import "context"

// PackageFetcher materializes a package's source tree into a local working
// directory. Implementations dispatch on the location scheme (file path,
// git/https, gs://, s3://, .zip archive). Fetch is idempotent: re-fetching
// overwrites the previous working directory and returns its absolute path.
type PackageFetcher interface {
	Fetch(ctx context.Context, projectName, packageName, location string) (string, error)
}
