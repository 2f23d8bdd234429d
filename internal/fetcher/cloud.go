package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/iterator"
)

// fetchGCS copies every object under a gs://bucket/prefix into dest.
func (f *Fetcher) fetchGCS(ctx context.Context, location, dest string) error {
	bucket, prefix, err := parseObjectURI(location, "gs://")
	if err != nil {
		return err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fetchErrf(false, "create GCS client: %v", err)
	}
	defer client.Close() //nolint:errcheck

	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	found := false
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fetchErrf(false, "list gs://%s/%s: %v", bucket, prefix, err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue // prefix placeholder
		}
		found = true
		rc, err := client.Bucket(bucket).Object(attrs.Name).NewReader(ctx)
		if err != nil {
			return fetchErrf(false, "read gs://%s/%s: %v", bucket, attrs.Name, err)
		}
		err = writeObject(dest, relativeKey(attrs.Name, prefix), rc)
		rc.Close() //nolint:errcheck
		if err != nil {
			return fetchErrf(false, "write gs://%s/%s: %v", bucket, attrs.Name, err)
		}
	}
	if !found {
		return fetchErrf(true, "no objects under %q", location)
	}
	return nil
}

// fetchS3 copies every object under an s3://bucket/prefix into dest.
// Credentials come from the standard AWS environment variables; anonymous
// access is not supported.
func (f *Fetcher) fetchS3(ctx context.Context, location, dest string) error {
	bucket, prefix, err := parseObjectURI(location, "s3://")
	if err != nil {
		return err
	}

	client := f.s3Client()
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	found := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fetchErrf(false, "list s3://%s/%s: %v", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			found = true
			out, err := client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return fetchErrf(false, "read s3://%s/%s: %v", bucket, key, err)
			}
			err = writeObject(dest, relativeKey(key, prefix), out.Body)
			out.Body.Close() //nolint:errcheck
			if err != nil {
				return fetchErrf(false, "write s3://%s/%s: %v", bucket, key, err)
			}
		}
	}
	if !found {
		return fetchErrf(true, "no objects under %q", location)
	}
	return nil
}

// s3Client builds an S3 client from AWS_* environment variables, matching
// how the rest of the system treats credentials (ambient, never stored).
func (f *Fetcher) s3Client() *s3.Client {
	opts := s3.Options{Region: os.Getenv("AWS_REGION")}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if keyID := os.Getenv("AWS_ACCESS_KEY_ID"); keyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(
			keyID, os.Getenv("AWS_SECRET_ACCESS_KEY"), os.Getenv("AWS_SESSION_TOKEN"),
		)
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// parseObjectURI splits scheme://bucket/prefix into its parts.
func parseObjectURI(location, scheme string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(location, scheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fetchErrf(true, "location %q: missing bucket", location)
	}
	return bucket, prefix, nil
}

// relativeKey strips the prefix from an object key, yielding the path
// relative to the package root.
func relativeKey(key, prefix string) string {
	rel := strings.TrimPrefix(key, prefix)
	return strings.TrimPrefix(rel, "/")
}

// writeObject streams one object into dest at its relative path.
func writeObject(dest, rel string, r io.Reader) error {
	if rel == "" {
		rel = "data"
	}
	target := filepath.Join(dest, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	w, err := os.Create(target) //nolint:gosec
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close() //nolint:errcheck
		return err
	}
	return w.Close()
}
