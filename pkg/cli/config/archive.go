package config

import (
	"context"

	"github.com/secmon-lab/argos/pkg/service/archive"
	"github.com/secmon-lab/argos/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Archive holds CLI flags for the superseded-document archive
type Archive struct {
	bucket string
	prefix string
}

// Flags returns CLI flags for archive configuration
func (a *Archive) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket for superseded document text (disabled when empty)",
			Sources:     cli.EnvVars("ARGOS_ARCHIVE_BUCKET"),
			Destination: &a.bucket,
		},
		&cli.StringFlag{
			Name:        "archive-prefix",
			Usage:       "Object key prefix within the archive bucket",
			Value:       "documents",
			Sources:     cli.EnvVars("ARGOS_ARCHIVE_PREFIX"),
			Destination: &a.prefix,
		},
	}
}

// Configure creates the archiver. Without a bucket, superseded documents
// are simply overwritten.
func (a *Archive) Configure(ctx context.Context) (archive.Archiver, error) {
	if a.bucket == "" {
		return archive.Nop{}, nil
	}

	archiver, err := archive.NewGCS(ctx, a.bucket, a.prefix)
	if err != nil {
		return nil, err
	}
	logging.Default().Info("Document archive enabled", "bucket", a.bucket, "prefix", a.prefix)
	return archiver, nil
}
