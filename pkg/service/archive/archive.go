package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/utils/safe"
)

// Archiver stores the extracted text of superseded document revisions
// so reprocessing never loses the previously fetched content.
type Archiver interface {
	Store(ctx context.Context, doc *model.Document) error
}

type gcsArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Archiver = &gcsArchiver{}

// NewGCS creates an Archiver writing to a Cloud Storage bucket.
func NewGCS(ctx context.Context, bucket, prefix string) (Archiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}
	return &gcsArchiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (a *gcsArchiver) Store(ctx context.Context, doc *model.Document) error {
	key := fmt.Sprintf("%s/%s/%s.md", a.prefix, doc.Fingerprint, doc.Revision)

	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "text/markdown"
	w.Metadata = map[string]string{
		"url":        doc.URL,
		"fetched_at": doc.FetchedAt.Format("2006-01-02T15:04:05Z07:00"),
	}

	if _, err := w.Write([]byte(doc.Text)); err != nil {
		safe.Close(ctx, w)
		return goerr.Wrap(err, "failed to write archive object",
			goerr.V("bucket", a.bucket),
			goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to finalize archive object",
			goerr.V("bucket", a.bucket),
			goerr.V("key", key))
	}
	return nil
}

// Nop discards archive requests. Used when no bucket is configured.
type Nop struct{}

func (Nop) Store(ctx context.Context, doc *model.Document) error { return nil }
