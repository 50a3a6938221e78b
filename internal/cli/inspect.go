package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/causalverse/internal/ir"
	"github.com/roach88/causalverse/internal/universe"
)

// StoreSummary describes one store of an inspected universe.
type StoreSummary struct {
	Key      string   `json:"key"`
	Events   int      `json:"events"`
	Active   string   `json:"active"`
	Branches []string `json:"branches"`
	Value    string   `json:"value"` // canonical JSON of the active head
}

// InspectResult is the output of the inspect command.
type InspectResult struct {
	Universe string         `json:"universe"`
	Digest   string         `json:"digest"`
	Stores   []StoreSummary `json:"stores"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <document>",
		Short: "Summarize a universe document",
		Long: `Import a universe document (JSON or zstd archive) and print its stores,
event counts, branches, current values and content digest.

Examples:
  causalverse inspect ./universe.json
  causalverse inspect ./universe.json.zst --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runInspect(opts *RootOptions, path string, cmd *cobra.Command) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	result, err := inspectDocument(doc)
	if err != nil {
		return err
	}

	out := opts.formatter(cmd)
	return out.Result(result, nil, func(w io.Writer) {
		fmt.Fprintf(w, "Universe: %s\n", result.Universe)
		fmt.Fprintf(w, "Digest:   %s\n", result.Digest)
		for _, s := range result.Stores {
			fmt.Fprintf(w, "  %s: %d events, branch %s of %v = %s\n", s.Key, s.Events, s.Active, s.Branches, s.Value)
		}
	})
}

func inspectDocument(doc *universe.Document) (InspectResult, error) {
	digest, err := doc.Digest()
	if err != nil {
		return InspectResult{}, WrapExitError(ExitCommandError, "failed to digest document", err)
	}
	m, err := universe.Import(doc, universe.WithLogger(discardLogger()))
	if err != nil {
		return InspectResult{}, WrapExitError(ExitCommandError, "failed to import universe", err)
	}

	result := InspectResult{Universe: m.ID(), Digest: digest}
	for _, key := range m.StoreKeys() {
		s, err := m.Store(key)
		if err != nil {
			return InspectResult{}, WrapExitError(ExitCommandError, "failed to read store", err)
		}
		state := s.Branches()
		branches := make([]string, 0, len(state.Heads))
		for name := range state.Heads {
			branches = append(branches, name)
		}
		slices.Sort(branches)

		value, err := ir.MarshalCanonical(s.Get())
		if err != nil {
			return InspectResult{}, WrapExitError(ExitCommandError, fmt.Sprintf("failed to render store %s", key), err)
		}
		result.Stores = append(result.Stores, StoreSummary{
			Key:      key,
			Events:   s.Len(),
			Active:   s.ActiveBranch(),
			Branches: branches,
			Value:    string(value),
		})
	}
	return result, nil
}
