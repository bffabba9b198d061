// Command snap2s3 migrates EBS snapshots to lz4-compressed S3 objects and
// validates previously migrated snapshots against the objects they
// produced. Usage:
//
//	snap2s3 migrate [snapshot-id ...]
//	snap2s3 validate [snapshot-id ...]
//
// With no snapshot ids, migrate processes every snapshot tagged "migrate"
// and validate processes every snapshot tagged "migrated".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/artemis/snap2s3/internal/blockdevice"
	"github.com/artemis/snap2s3/internal/claim"
	"github.com/artemis/snap2s3/internal/config"
	awsec2 "github.com/artemis/snap2s3/internal/ec2store/adapters/awsec2"
	"github.com/artemis/snap2s3/internal/ec2store"
	"github.com/artemis/snap2s3/internal/metadata"
	"github.com/artemis/snap2s3/internal/migrate"
	"github.com/artemis/snap2s3/internal/obslog"
	awss3 "github.com/artemis/snap2s3/internal/objectstore/adapters/awss3"
	"github.com/artemis/snap2s3/internal/objectstore"
	"github.com/artemis/snap2s3/internal/subprocess"
	"github.com/artemis/snap2s3/internal/validate"
	"github.com/artemis/snap2s3/internal/volume"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: snap2s3 <migrate|validate> [snapshot-id ...]")
		os.Exit(2)
	}

	mode := os.Args[1]
	if mode != "migrate" && mode != "validate" {
		fmt.Fprintf(os.Stderr, "unknown subcommand %q: must be \"migrate\" or \"validate\"\n", mode)
		os.Exit(2)
	}
	ids := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, format, samplingRate, async, redact := cfg.LogConfig()
	obslog.Init(obslog.Config{Level: level, Format: format, SamplingRate: samplingRate, Async: async, Redact: redact})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mode, ids, cfg); err != nil {
		obslog.L().ErrorContext(ctx, "run failed", "mode", mode, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, mode string, ids []string, cfg *config.Config) error {
	if err := subprocess.RequireOnPath("lsblk", "lz4", "tar", "du", "mount", "umount", "sort"); err != nil {
		return apperrors.Preflight("required external tool missing", err)
	}

	resolver, err := metadata.NewIMDSResolver(ctx)
	if err != nil {
		return apperrors.Preflight("failed to initialize instance metadata resolver", err)
	}
	instance, err := resolver.Resolve(ctx)
	if err != nil {
		return apperrors.Preflight("failed to resolve local instance identity", err)
	}

	ec2Adapter, err := awsec2.New(ctx, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		return apperrors.Preflight("failed to initialize EC2 client", err)
	}
	store := ec2store.NewInstrumented(ec2Adapter)

	s3Adapter, err := awss3.New(ctx, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		return apperrors.Preflight("failed to initialize S3 client", err)
	}
	objects := objectstore.NewInstrumented(s3Adapter)

	prober := blockdevice.NewLsblkProber()
	mounter := volume.NewSubprocessMounter()
	lifecycle := volume.New(store, prober, mounter, cfg.Tag, cfg.MountPoint, instance)
	coord := claim.New(store, cfg.Tag)

	switch mode {
	case "migrate":
		return migrate.New(store, objects, prober, lifecycle, coord, cfg).Run(ctx, ids)
	case "validate":
		return validate.New(store, objects, prober, lifecycle, coord, cfg).Run(ctx, ids)
	default:
		return apperrors.InvalidArgument("unknown subcommand: "+mode, nil)
	}
}
