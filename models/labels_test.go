package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCOCOLabels(t *testing.T) {
	require.Len(t, COCOLabels, 80)
	assert.Equal(t, "person", COCOLabels[0])
	assert.Equal(t, "baseball bat", COCOLabels[34])
	assert.Equal(t, "baseball glove", COCOLabels[35])
	assert.Equal(t, "toothbrush", COCOLabels[79])

	label, ok := COCOLabels.Lookup(2)
	assert.True(t, ok)
	assert.Equal(t, "car", label)
	_, ok = COCOLabels.Lookup(80)
	assert.False(t, ok)
	_, ok = COCOLabels.Lookup(-1)
	assert.False(t, ok)
}

func TestLoadLabelsText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("cat\n\n  dog \r\nhot dog\n"), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, LabelTable{"cat", "dog", "hot dog"}, labels)
}

func TestLoadLabelsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")
	require.NoError(t, os.WriteFile(path, []byte(`["face", "hand"]`), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, LabelTable{"face", "hand"}, labels)
}

func TestLoadLabelsErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadLabels(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(errors.Cause(err)))
	assert.Contains(t, err.Error(), "read labels")

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = LoadLabels(empty)
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"a": 1}`), 0o644))
	_, err = LoadLabels(broken)
	assert.Error(t, err)
}

func TestParseMetadataNames(t *testing.T) {
	labels, err := ParseMetadataNames(`{0: 'person', 1: "bicycle", 2: 'traffic light'}`)
	require.NoError(t, err)
	assert.Equal(t, LabelTable{"person", "bicycle", "traffic light"}, labels)

	labels, err = ParseMetadataNames(`{1: 'b', 0: 'a'}`)
	require.NoError(t, err)
	assert.Equal(t, LabelTable{"a", "b"}, labels)
}

func TestParseMetadataNamesErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"{}",
		"{0: 'a', 2: 'c'}",
		"{0: 'a', 0: 'b'}",
	} {
		_, err := ParseMetadataNames(s)
		assert.Error(t, err, s)
	}
}
