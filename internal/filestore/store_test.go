package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFileType(t *testing.T) {
	cases := map[string]string{
		"drawing.pdf":   "pdf",
		"part.STEP":     "step",
		"model.stp":     "step",
		"program.nc":    "nc",
		"program.gcode": "nc",
		"sheet.xlsx":    "xlsx",
	}
	for name, want := range cases {
		got, err := detectFileType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDetectFileType_Unsupported(t *testing.T) {
	_, err := detectFileType("archive.zip")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSanitizeFilename_BlocksTraversal(t *testing.T) {
	for _, bad := range []string{"../etc/passwd", "a/b.pdf", "a\\b.pdf", "..\\x.pdf"} {
		_, err := sanitizeFilename(bad)
		assert.ErrorIs(t, err, ErrInvalidFilename, "expected rejection for %q", bad)
	}
}

func TestSanitizeFilename_AllowsSafeNames(t *testing.T) {
	for _, good := range []string{"drawing.pdf", "rev A.step", "part-10900635_v2.pdf"} {
		name, err := sanitizeFilename(good)
		require.NoError(t, err)
		assert.Equal(t, good, name)
	}
}

func TestValidateMagicBytes(t *testing.T) {
	assert.NoError(t, validateMagicBytes([]byte("%PDF-1.4 ..."), "pdf"))
	assert.ErrorIs(t, validateMagicBytes([]byte("not a pdf"), "pdf"), ErrMagicBytesMismatch)

	assert.NoError(t, validateMagicBytes([]byte("ISO-10303-21;"), "step"))
	assert.ErrorIs(t, validateMagicBytes([]byte("garbage"), "step"), ErrMagicBytesMismatch)

	// nc files have no magic byte requirement.
	assert.NoError(t, validateMagicBytes([]byte("G01 X0 Y0"), "nc"))
}

func TestValidateFileSize(t *testing.T) {
	assert.NoError(t, validateFileSize(5*1024*1024, "pdf"))
	assert.ErrorIs(t, validateFileSize(11*1024*1024, "pdf"), ErrFileTooLarge)
	assert.NoError(t, validateFileSize(60*1024*1024, "step"))
	assert.ErrorIs(t, validateFileSize(60*1024*1024, "nc"), ErrFileTooLarge)
}

func TestHashContent_StableAndDistinct(t *testing.T) {
	a := hashContent([]byte("hello world"))
	b := hashContent([]byte("hello world"))
	c := hashContent([]byte("hello world!"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestDeduplicateName_AppendsSuffixOnCollision(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drawing.pdf"), []byte("x"), 0o644))

	name := deduplicateName(dir, "drawing.pdf")
	assert.NotEqual(t, "drawing.pdf", name)
	assert.Contains(t, name, "drawing_")
	assert.Equal(t, ".pdf", filepath.Ext(name))
}

func TestDeduplicateName_NoCollisionKeepsName(t *testing.T) {
	dir := t.TempDir()
	name := deduplicateName(dir, "fresh.pdf")
	assert.Equal(t, "fresh.pdf", name)
}
