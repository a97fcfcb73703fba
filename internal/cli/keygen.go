package cli

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/BigBirdReturns/axm-core/internal/sealer"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	SuiteName string
	OutDir    string
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a publisher key pair",
		Long: `Keygen writes publisher.key (the signing secret) and publisher.pub
(the public key consumers pin as a trust anchor) into the output
directory. The secret is written with owner-only permissions.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SuiteName, "suite", "pq", "signature suite (legacy|pq)")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "output directory (required)")
	cmd.MarkFlagRequired("out")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	suite, ok := suiteFlags[opts.SuiteName]
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid suite %q: must be legacy or pq", opts.SuiteName))
	}

	secret, pub, err := sealer.GenerateKey(suite, rand.Reader)
	if err != nil {
		return WrapExitError(ExitCommandError, "generate key", err)
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "create output dir", err)
	}
	keyPath := filepath.Join(opts.OutDir, "publisher.key")
	pubPath := filepath.Join(opts.OutDir, "publisher.pub")
	if err := os.WriteFile(keyPath, secret, 0o600); err != nil {
		return WrapExitError(ExitCommandError, "write secret key", err)
	}
	if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "write public key", err)
	}

	if opts.Format == "json" {
		return formatter.JSON(map[string]any{
			"suite":      string(suite),
			"secret_key": keyPath,
			"public_key": pubPath,
		})
	}
	formatter.Textf("wrote %s (%d bytes) and %s (%d bytes)\n", keyPath, len(secret), pubPath, len(pub))
	return nil
}
