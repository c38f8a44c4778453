package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	retired := created.Add(48 * time.Hour)
	m := &Manifest{
		ID:         17,
		DictFile:   "abc.dict",
		Namespaces: []string{"user:", "session:"},
		Created:    created,
		Level:      3,
		Signature:  "sig-xyz",
		Retired:    retired,
	}

	parsed, err := Parse(m.Render())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestParseDefaultsAndUnknownKeys(t *testing.T) {
	text := "# comment\n" +
		"dict_file=a.dict\n" +
		"level=3\n" +
		"future_key=whatever\n" +
		"not a key value line\n"

	m, err := Parse([]byte(text))
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, m.Namespaces)
	assert.Zero(t, m.ID)
	assert.True(t, m.Active())
}

func TestParseMissingDictFile(t *testing.T) {
	_, err := Parse([]byte("level=3\n"))
	assert.ErrorIs(t, err, ErrMissingDictFile)
}

func TestParseEmptyRetiredIsActive(t *testing.T) {
	m, err := Parse([]byte("dict_file=a.dict\nretired=\n"))
	require.NoError(t, err)
	assert.True(t, m.Active())
}

func TestParseBadValues(t *testing.T) {
	for _, text := range []string{
		"dict_file=a.dict\nid=99999\n",
		"dict_file=a.dict\ncreated=yesterday\n",
		"dict_file=a.dict\nlevel=three\n",
		"dict_file=a.dict\nretired=later\n",
	} {
		_, err := Parse([]byte(text))
		assert.Error(t, err, text)
	}
}

func TestRenderOmitsUnassignedID(t *testing.T) {
	m := &Manifest{DictFile: "a.dict", Namespaces: []string{"default"}}
	assert.NotContains(t, string(m.Render()), "id=")
	assert.NotContains(t, string(m.Render()), "retired=")
}

func TestSaveNewAndScan(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, nil)

	m := &Manifest{
		Namespaces: []string{"default"},
		Created:    time.Now().UTC().Truncate(time.Second),
		Level:      3,
		Signature:  "sig-1",
	}
	e, err := st.SaveNew([]byte("dictionary-bytes"), m, "0f8c2b1e")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "0f8c2b1e.dict"), e.DictPath)

	data, err := os.ReadFile(e.DictPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("dictionary-bytes"), data)

	got, err := st.Scan(nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0f8c2b1e.dict", got[0].Manifest.DictFile)
	assert.Zero(t, got[0].Manifest.ID, "id is never persisted at training time")
	assert.Equal(t, "sig-1", got[0].Manifest.Signature)
}

func TestRewritePersistsID(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, nil)

	m := &Manifest{Namespaces: []string{"default"}, Level: 3}
	e, err := st.SaveNew([]byte("d"), m, "aa11")
	require.NoError(t, err)

	m.ID = 42
	require.NoError(t, st.Rewrite(e.MFPath, m))

	got, err := st.Scan(nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint16(42), got[0].Manifest.ID)
}

func TestScanSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, nil)

	m := &Manifest{Namespaces: []string{"default"}}
	_, err := st.SaveNew([]byte("d"), m, "good")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.mf"), []byte("level=3\n"), 0o644))

	var skippedPaths []string
	got, err := st.Scan(func(path string, err error) {
		skippedPaths = append(skippedPaths, path)
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, []string{filepath.Join(dir, "bad.mf")}, skippedPaths)
}

func TestScanMissingDir(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "nope"), nil)
	got, err := st.Scan(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
