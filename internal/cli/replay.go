package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/causalverse/internal/config"
	"github.com/roach88/causalverse/internal/journal"
	"github.com/roach88/causalverse/internal/universe"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	journalFlags
	Universe string // optional - specific universe only
}

// journalFlags override the configured journal.
type journalFlags struct {
	Database string
	Backend  string
}

func (f *journalFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Database, "db", "", "journal path (overrides config)")
	cmd.Flags().StringVar(&f.Backend, "backend", "", "journal backend: sqlite|badger (overrides config)")
}

func (f journalFlags) apply(jc config.JournalConfig) config.JournalConfig {
	if f.Backend != "" {
		jc.Backend = f.Backend
	}
	if f.Database != "" {
		jc.Path = f.Database
	}
	return jc
}

// ReplayUniverseResult holds the replay result for a single universe.
type ReplayUniverseResult struct {
	Universe      string `json:"universe"`
	Stores        int    `json:"stores"`
	Events        int    `json:"events"`
	Digest        string `json:"digest"`
	ReplayDigest  string `json:"replay_digest"`
	Deterministic bool   `json:"deterministic"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Universes        []ReplayUniverseResult `json:"universes"`
	AllDeterministic bool                   `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [document]",
		Short: "Rebuild universes and verify the rebuild is exact",
		Long: `Rebuild universes from their recorded events, twice, and verify that both
rebuilds export the same content digest.

With a document argument, that document is replayed. Without one, every
universe in the journal is replayed (or only --universe).

Exit codes:
  0 - Every replay reproduced its digest
  1 - A replay produced a different digest
  2 - Command error (unreadable document, journal not found, etc.)

Examples:
  causalverse replay ./universe.json
  causalverse replay --db ./causalverse.db
  causalverse replay --db ./journal --backend badger --universe mechanics --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	opts.journalFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Universe, "universe", "", "replay specific universe only")

	return cmd
}

func runReplay(opts *ReplayOptions, args []string, cmd *cobra.Command) error {
	docs, err := replaySources(opts, args, cmd)
	if err != nil {
		return err
	}

	result := ReplayResult{
		Universes:        make([]ReplayUniverseResult, 0, len(docs)),
		AllDeterministic: true,
	}
	out := opts.formatter(cmd)
	for _, doc := range docs {
		ur, err := replayDocument(doc)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay universe %s", doc.UniverseID), err)
		}
		out.VerboseLog("replayed %s: %d events", ur.Universe, ur.Events)
		result.Universes = append(result.Universes, ur)
		if !ur.Deterministic {
			result.AllDeterministic = false
		}
	}

	var cliErr *CLIError
	if !result.AllDeterministic {
		cliErr = &CLIError{Code: CodeNotDeterministic, Message: "replay produced a different digest"}
	}
	if err := out.Result(result, cliErr, func(w io.Writer) {
		if len(result.Universes) == 0 {
			fmt.Fprintln(w, "No universes found.")
			return
		}
		for _, u := range result.Universes {
			mark := "✓"
			if !u.Deterministic {
				mark = "✗"
			}
			fmt.Fprintf(w, "%s %s: %d stores, %d events, digest %s\n", mark, u.Universe, u.Stores, u.Events, u.Digest)
			if !u.Deterministic {
				fmt.Fprintf(w, "  replay digest %s\n", u.ReplayDigest)
			}
		}
	}); err != nil {
		return err
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, cliErr.Message)
	}
	return nil
}

// replaySources loads the documents to replay.
func replaySources(opts *ReplayOptions, args []string, cmd *cobra.Command) ([]*universe.Document, error) {
	if len(args) == 1 {
		doc, err := readDocument(args[0])
		if err != nil {
			return nil, err
		}
		return []*universe.Document{doc}, nil
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	j, err := opts.journalFlags.apply(cfg.Journal).OpenJournal()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ids := []string{opts.Universe}
	if opts.Universe == "" {
		ids, err = j.Universes(ctx)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to list universes", err)
		}
	}

	docs := make([]*universe.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := journal.LoadDocument(ctx, j, id)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to load universe %s", id), err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// replayDocument rebuilds doc twice, each time from the previous export,
// and compares the digests of the two exports.
func replayDocument(doc *universe.Document) (ReplayUniverseResult, error) {
	first, err := rebuild(doc)
	if err != nil {
		return ReplayUniverseResult{}, err
	}
	second, err := rebuild(first)
	if err != nil {
		return ReplayUniverseResult{}, err
	}
	digest, err := first.Digest()
	if err != nil {
		return ReplayUniverseResult{}, err
	}
	replayDigest, err := second.Digest()
	if err != nil {
		return ReplayUniverseResult{}, err
	}

	events := 0
	for _, evs := range first.Stores {
		events += len(evs)
	}
	return ReplayUniverseResult{
		Universe:      doc.UniverseID,
		Stores:        len(first.Stores),
		Events:        events,
		Digest:        digest,
		ReplayDigest:  replayDigest,
		Deterministic: digest == replayDigest,
	}, nil
}

func rebuild(doc *universe.Document) (*universe.Document, error) {
	m, err := universe.Import(doc, universe.WithLogger(discardLogger()))
	if err != nil {
		return nil, err
	}
	return m.Export()
}
