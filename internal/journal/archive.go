package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/causalverse/internal/universe"
)

// WriteArchive writes doc to w as zstd-compressed JSON.
func WriteArchive(w io.Writer, doc *universe.Document) error {
	if doc == nil {
		return fmt.Errorf("write archive: nil document")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// ReadArchive decodes and validates a document written by WriteArchive.
func ReadArchive(r io.Reader) (*universe.Document, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	doc, err := universe.DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return doc, nil
}

// WriteArchiveFile writes doc to path, replacing any existing file.
func WriteArchiveFile(path string, doc *universe.Document) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := WriteArchive(f, doc); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// ReadArchiveFile reads a document archive from path.
func ReadArchiveFile(path string) (*universe.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	defer f.Close()
	return ReadArchive(f)
}
