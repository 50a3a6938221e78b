package cli

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/causalverse/internal/journal"
	"github.com/roach88/causalverse/internal/universe"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// readDocument loads a universe document from a JSON file or a zstd
// archive, telling them apart by the zstd frame magic.
func readDocument(path string) (*universe.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to read document %s", path), err)
	}
	var doc *universe.Document
	if bytes.HasPrefix(raw, zstdMagic) {
		doc, err = journal.ReadArchive(bytes.NewReader(raw))
	} else {
		doc, err = universe.DecodeDocument(raw)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid document %s", path), err)
	}
	return doc, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
