package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/causalverse/internal/journal"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	journalFlags
	Universe string
	Out      string
}

// ExportResult is the output of the export command.
type ExportResult struct {
	Universe string `json:"universe"`
	Stores   int    `json:"stores"`
	Events   int    `json:"events"`
	Digest   string `json:"digest"`
	Archive  string `json:"archive"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a journaled universe to a zstd archive",
		Long: `Load a universe from the journal and write it as a zstd-compressed
document archive. The archive can be read by inspect, replay and run.

Examples:
  causalverse export --universe mechanics --out mechanics.json.zst
  causalverse export --db ./journal --backend badger --universe u1 --out u1.json.zst`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	opts.journalFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Universe, "universe", "", "universe to export (required)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "archive path (required)")
	_ = cmd.MarkFlagRequired("universe")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	j, err := opts.journalFlags.apply(cfg.Journal).OpenJournal()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	doc, err := journal.LoadDocument(ctx, j, opts.Universe)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load universe %s", opts.Universe), err)
	}
	digest, err := doc.Digest()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to digest document", err)
	}
	if err := journal.WriteArchiveFile(opts.Out, doc); err != nil {
		return WrapExitError(ExitCommandError, "failed to write archive", err)
	}

	result := ExportResult{
		Universe: doc.UniverseID,
		Stores:   len(doc.Stores),
		Digest:   digest,
		Archive:  opts.Out,
	}
	for _, evs := range doc.Stores {
		result.Events += len(evs)
	}
	out := opts.formatter(cmd)
	return out.Result(result, nil, func(w io.Writer) {
		fmt.Fprintf(w, "Exported %s (%d stores, %d events) to %s\n", result.Universe, result.Stores, result.Events, result.Archive)
		fmt.Fprintf(w, "Digest: %s\n", result.Digest)
	})
}
