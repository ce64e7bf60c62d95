// Command ltsu uploads a single large file to a cold-storage service using
// that service's multipart upload protocol, resumably: interrupting and
// re-running against the same --work directory picks up where it left off.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/wilsonzlin/ltsu/internal/backend"
	"github.com/wilsonzlin/ltsu/internal/backend/b2"
	"github.com/wilsonzlin/ltsu/internal/backend/glacier"
	"github.com/wilsonzlin/ltsu/internal/log"
	"github.com/wilsonzlin/ltsu/internal/orchestrator"
	"github.com/wilsonzlin/ltsu/internal/progress"
	"github.com/wilsonzlin/ltsu/internal/state"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "ltsu",
		Usage:   "resumable multipart uploader for cold-storage archives",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "path to the file to upload", Required: true},
			&cli.StringFlag{Name: "work", Usage: "working directory for session state", Required: true},
			&cli.StringFlag{Name: "service", Usage: "backend service: aws or b2", Required: true},
			&cli.IntFlag{Name: "concurrency", Usage: "maximum concurrent part uploads", Value: 3},
			&cli.BoolFlag{Name: "quiet", Usage: "disable the progress bar"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
			&cli.BoolFlag{Name: "force", Usage: "resume even if the file identity has changed"},

			&cli.StringFlag{Name: "region", Usage: "AWS region (aws)", EnvVars: []string{"LTSU_AWS_REGION"}},
			&cli.StringFlag{Name: "access", Usage: "AWS access key id (aws)", EnvVars: []string{"LTSU_AWS_ACCESS_KEY_ID"}},
			&cli.StringFlag{Name: "secret", Usage: "AWS secret access key (aws)", EnvVars: []string{"LTSU_AWS_SECRET_ACCESS_KEY"}},
			&cli.StringFlag{Name: "vault", Usage: "Glacier vault name (aws)", EnvVars: []string{"LTSU_AWS_VAULT"}},

			&cli.StringFlag{Name: "account", Usage: "B2 account id (b2)", EnvVars: []string{"LTSU_B2_ACCOUNT_ID"}},
			&cli.StringFlag{Name: "key", Usage: "B2 application key (b2)", EnvVars: []string{"LTSU_B2_APPLICATION_KEY"}},
			&cli.StringFlag{Name: "bucket", Usage: "B2 bucket id (b2)", EnvVars: []string{"LTSU_B2_BUCKET_ID"}},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	runID := uuid.NewString()

	base := logrus.New()
	base.Out = os.Stdout
	if c.Bool("verbose") {
		base.SetLevel(logrus.DebugLevel)
	}
	logger := log.NewLogrus(base, runID)

	filePath := c.String("file")
	workDir := c.String("work")

	if info, err := os.Stat(filePath); err != nil {
		return errors.Wrapf(err, "ltsu: cannot stat --file %q", filePath)
	} else if !info.Mode().IsRegular() {
		return errors.Errorf("ltsu: --file %q is not a regular file", filePath)
	}

	store, err := state.Open(workDir)
	if err != nil {
		return errors.WithStack(err)
	}
	defer store.Close()

	b, classify, err := newBackend(c, logger)
	if err != nil {
		return err
	}

	reporter := progress.New(os.Stdout, c.Bool("quiet"))
	defer reporter.Finish()

	orch := orchestrator.New(logger, store, b, reporter, orchestrator.Options{
		FilePath:           filePath,
		Concurrency:        c.Int("concurrency"),
		Force:              c.Bool("force"),
		IsChecksumMismatch: classify,
	})

	ctx := context.Background()
	if err := orch.Run(ctx); err != nil {
		reporter.Finish()
		return errors.WithStack(err)
	}

	return nil
}

func newBackend(c *cli.Context, logger log.Logger) (backend.Backend, orchestrator.ChecksumMismatchClassifier, error) {
	switch c.String("service") {
	case "aws":
		g, err := glacier.New(logger, glacier.Options{
			AccessKeyID:     c.String("access"),
			SecretAccessKey: c.String("secret"),
			Region:          c.String("region"),
			VaultName:       c.String("vault"),
			RequestTimeout:  120 * time.Second,
		})
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		return g, isGlacierChecksumMismatch, nil

	case "b2":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		bk, err := b2.New(ctx, logger, b2.Options{
			AccountID:      c.String("account"),
			ApplicationKey: c.String("key"),
			BucketID:       c.String("bucket"),
			RequestTimeout: 120 * time.Second,
		})
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		return bk, nil, nil

	default:
		return nil, nil, errors.Errorf("ltsu: unknown --service %q (want aws or b2)", c.String("service"))
	}
}

func isGlacierChecksumMismatch(err error) bool {
	var gerr *glacier.Error
	if errors.As(err, &gerr) {
		return gerr.Code == glacier.ErrorCodeChecksumMismatch
	}
	return false
}
