package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causalverse/internal/ir"
	"github.com/roach88/causalverse/internal/universe"
)

func sampleDocument(t *testing.T) *universe.Document {
	t.Helper()
	m := universe.New("u1", testOptions()...)
	s, err := m.CreateStore("temperature", ir.IRFloat(20.5))
	require.NoError(t, err)
	require.NoError(t, s.Set(ir.IRFloat(21.25)))
	doc, err := m.Export()
	require.NoError(t, err)
	return doc
}

func TestArchive_RoundTrip(t *testing.T) {
	doc := sampleDocument(t)

	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, doc))
	// zstd frame magic
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte{0x28, 0xb5, 0x2f, 0xfd}))

	back, err := ReadArchive(&buf)
	require.NoError(t, err)
	assert.Equal(t, doc.UniverseID, back.UniverseID)
	assert.Equal(t, doc.Stores, back.Stores)

	want, err := doc.Digest()
	require.NoError(t, err)
	got, err := back.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestArchive_File(t *testing.T) {
	doc := sampleDocument(t)
	path := filepath.Join(t.TempDir(), "u1.cvz")

	require.NoError(t, WriteArchiveFile(path, doc))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	back, err := ReadArchiveFile(path)
	require.NoError(t, err)

	m, err := universe.Import(back, testOptions()...)
	require.NoError(t, err)
	v, ok := m.Value("temperature")
	require.True(t, ok)
	assert.Equal(t, ir.IRFloat(21.25), v)
}

func TestReadArchive_Rejects(t *testing.T) {
	_, err := ReadArchive(bytes.NewReader([]byte("plain text")))
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, &universe.Document{Version: universe.DocumentVersion, UniverseID: "u1"}))
	_, err = ReadArchive(&buf)
	require.Error(t, err)
	assert.True(t, universe.IsInvalidDocument(err))
}

func TestWriteArchive_NilDocument(t *testing.T) {
	assert.Error(t, WriteArchive(&bytes.Buffer{}, nil))
}
