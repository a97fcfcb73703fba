package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BigBirdReturns/axm-core/internal/verifier"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	TrustedKey string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <shard-dir>",
		Short: "Verify a sealed shard against a trusted publisher key",
		Long: `Verify checks layout, manifest, signature, Merkle root, table schemas,
referential integrity, and byte-range evidence fidelity. Exit code 0 means
every byte of the shard is exactly what the publisher signed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TrustedKey, "trusted-key", "", "path to the trusted publisher public key (required)")
	cmd.MarkFlagRequired("trusted-key")

	return cmd
}

func runVerify(opts *VerifyOptions, shardDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	trusted, err := os.ReadFile(opts.TrustedKey)
	if err != nil {
		return WrapExitError(ExitCommandError, "read trusted key", err)
	}

	formatter.VerboseLog("Verifying %s", shardDir)
	res := verifier.Verify(shardDir, verifier.Options{TrustedKey: trusted})

	if opts.Format == "json" {
		if err := formatter.JSON(res); err != nil {
			return WrapExitError(ExitCommandError, "encode result", err)
		}
	} else if res.Pass() {
		formatter.Textf("PASS %s\n", shardDir)
	} else {
		formatter.Textf("FAIL %s (%d error(s), stopped after %s)\n", shardDir, len(res.Errors), res.State)
		for _, e := range res.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e.Error())
		}
	}

	if !res.Pass() {
		return NewExitError(ExitFailure, "shard failed verification")
	}
	return nil
}
