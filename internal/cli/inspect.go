package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/BigBirdReturns/axm-core/internal/manifest"
	"github.com/BigBirdReturns/axm-core/internal/table"
	"github.com/BigBirdReturns/axm-core/internal/verifier"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
}

// NewInspectCommand creates the inspect command.
//
// Inspect reads a shard WITHOUT verification: no signature check, no
// Merkle check, no trust. It exists for quick triage and its output says
// so. Anything that acts on shard contents must verify first.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "inspect <shard-dir>",
		Short:         "Print an UNVERIFIED summary of a shard",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	return cmd
}

func runInspect(opts *InspectOptions, shardDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	raw, err := os.ReadFile(filepath.Join(shardDir, verifier.ManifestFile))
	if err != nil {
		return WrapExitError(ExitCommandError, "read manifest", err)
	}
	m, fieldErrs, parseErr := manifest.Parse(raw)
	if parseErr != nil {
		return WrapExitError(ExitCommandError, "parse manifest", parseErr)
	}

	counts := map[string]int{}
	for name, spec := range map[string]struct {
		rel    string
		schema table.Schema
	}{
		"entities":   {verifier.EntitiesFile, table.Entities},
		"claims":     {verifier.ClaimsFile, table.Claims},
		"provenance": {verifier.ProvenanceFile, table.Provenance},
		"spans":      {verifier.SpansFile, table.Spans},
	} {
		t, err := table.Read(filepath.Join(shardDir, filepath.FromSlash(spec.rel)), spec.schema)
		if err != nil {
			counts[name] = -1
			continue
		}
		counts[name] = len(t.Rows)
	}

	suite := m.Suite
	if suite == "" {
		suite = "ed25519 (implied)"
	}

	if opts.Format == "json" {
		return formatter.JSON(map[string]any{
			"verified":       false,
			"shard_id":       m.ShardID,
			"title":          m.Title,
			"namespace":      m.Namespace,
			"created_at":     m.CreatedAt,
			"suite":          suite,
			"sources":        len(m.Sources),
			"extensions":     m.Extensions,
			"rows":           counts,
			"manifest_flaws": len(fieldErrs),
		})
	}

	formatter.Textf("UNVERIFIED shard summary - run 'axm verify' before trusting any of this\n")
	formatter.Textf("  shard_id:   %s\n", m.ShardID)
	formatter.Textf("  title:      %s\n", m.Title)
	formatter.Textf("  namespace:  %s\n", m.Namespace)
	formatter.Textf("  created_at: %s\n", m.CreatedAt)
	formatter.Textf("  suite:      %s\n", suite)
	formatter.Textf("  sources:    %d\n", len(m.Sources))
	for _, name := range []string{"entities", "claims", "provenance", "spans"} {
		if counts[name] < 0 {
			formatter.Textf("  %-11s unreadable\n", name+":")
		} else {
			formatter.Textf("  %-11s %d rows\n", name+":", counts[name])
		}
	}
	if len(fieldErrs) > 0 {
		formatter.Textf("  manifest has %d schema flaw(s)\n", len(fieldErrs))
	}
	return nil
}
