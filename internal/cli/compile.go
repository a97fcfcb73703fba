package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BigBirdReturns/axm-core/internal/compiler"
	"github.com/BigBirdReturns/axm-core/internal/sealer"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	ContentDir string
	MetaPath   string
	KeyPath    string
	SuiteName  string
	OutDir     string
}

// Suite flag values map to wire suite names; "legacy" and "pq" are the
// human-facing spellings.
var suiteFlags = map[string]sealer.Suite{
	"legacy": sealer.SuiteLegacy,
	"pq":     sealer.SuitePQ,
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <candidates.jsonl>",
		Short: "Compile a candidate stream into a sealed shard",
		Long: `Compile resolves entities and claims from a JSONL candidate stream,
materializes evidence spans, writes deterministic tables, roots the file
set, signs the canonical manifest, and self-verifies. A build that does
not verify does not ship.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ContentDir, "content", "", "directory of source content files (required)")
	cmd.Flags().StringVar(&opts.MetaPath, "meta", "", "shard metadata YAML (required)")
	cmd.Flags().StringVar(&opts.KeyPath, "key", "", "signing secret key file (required)")
	cmd.Flags().StringVar(&opts.SuiteName, "suite", "pq", "signature suite (legacy|pq)")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "output shard directory (required)")
	cmd.MarkFlagRequired("content")
	cmd.MarkFlagRequired("meta")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("out")

	return cmd
}

func runCompile(opts *CompileOptions, candidatesPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	suite, ok := suiteFlags[opts.SuiteName]
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid suite %q: must be legacy or pq", opts.SuiteName))
	}

	meta, err := compiler.LoadMetadata(opts.MetaPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load metadata", err)
	}
	secret, err := os.ReadFile(opts.KeyPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "read signing key", err)
	}

	formatter.VerboseLog("Compiling %s under suite %s", candidatesPath, suite)

	res, err := compiler.Compile(cmd.Context(), compiler.Config{
		CandidatesPath: candidatesPath,
		ContentDir:     opts.ContentDir,
		OutDir:         opts.OutDir,
		Meta:           meta,
		Suite:          suite,
		SecretKey:      secret,
	})
	if err != nil {
		var sv *compiler.SelfVerifyError
		if errors.As(err, &sv) {
			for _, e := range sv.Result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e.Error())
			}
			return WrapExitError(ExitFailure, "self-verification failed", err)
		}
		return WrapExitError(ExitCommandError, "compile failed", err)
	}

	if opts.Format == "json" {
		return formatter.JSON(map[string]any{
			"shard_id":   res.ShardID,
			"out":        res.OutDir,
			"entities":   res.Entities,
			"claims":     res.Claims,
			"spans":      res.Spans,
			"provenance": res.Provenance,
			"locators":   res.Locators,
		})
	}
	formatter.Textf("sealed %s\n", res.ShardID)
	formatter.Textf("  entities=%d claims=%d spans=%d provenance=%d\n",
		res.Entities, res.Claims, res.Spans, res.Provenance)
	return nil
}
