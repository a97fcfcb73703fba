package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BigBirdReturns/axm-core/internal/mount"
	"github.com/BigBirdReturns/axm-core/internal/verifier"
)

// MountOptions holds flags for the mount command.
type MountOptions struct {
	*RootOptions
	TrustedKey string
	DBPath     string
}

// NewMountCommand creates the mount command.
func NewMountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MountOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mount <shard-dir>",
		Short: "Verify a shard and load it into a SQLite database",
		Long: `Mount verifies the shard against the trusted key and loads the core
tables into a SQLite database for read-only consumers. An unverified
shard is refused.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TrustedKey, "trusted-key", "", "path to the trusted publisher public key (required)")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "output SQLite database path (required)")
	cmd.MarkFlagRequired("trusted-key")
	cmd.MarkFlagRequired("db")

	return cmd
}

func runMount(opts *MountOptions, shardDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	trusted, err := os.ReadFile(opts.TrustedKey)
	if err != nil {
		return WrapExitError(ExitCommandError, "read trusted key", err)
	}

	stats, err := mount.Mount(cmd.Context(), shardDir, verifier.Options{TrustedKey: trusted}, opts.DBPath)
	if err != nil {
		var ve *mount.VerifyError
		if errors.As(err, &ve) {
			for _, e := range ve.Result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e.Error())
			}
			return WrapExitError(ExitFailure, "shard failed verification", err)
		}
		return WrapExitError(ExitCommandError, "mount failed", err)
	}

	if opts.Format == "json" {
		return formatter.JSON(stats)
	}
	formatter.Textf("mounted %s into %s\n", stats.ShardID, opts.DBPath)
	formatter.Textf("  entities=%d claims=%d spans=%d provenance=%d\n",
		stats.Entities, stats.Claims, stats.Spans, stats.Provenance)
	return nil
}
