package payloadx

import (
	"archive/zip"
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestValidateZIP(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateZIP(zipBytes(t, map[string]string{"page1.txt": "hello"})))
	assert.Error(t, ValidateZIP([]byte("not a zip")))
	assert.Error(t, ValidateZIP(zipBytes(t, nil)), "empty archive rejected")
}

func TestValidateXML(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateXML([]byte(`<alto><Layout/></alto>`)))
	assert.Error(t, ValidateXML([]byte(`<alto><Layout></alto>`)))
	assert.Error(t, ValidateXML([]byte(``)))
	assert.Error(t, ValidateXML([]byte(`   `)))
}

func TestValidateJSON(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateJSON([]byte(`{"pages": 3}`)))
	assert.NoError(t, ValidateJSON([]byte(`[]`)))
	assert.Error(t, ValidateJSON([]byte(`{"pages": }`)))
}

func TestDetectImage(t *testing.T) {
	t.Parallel()
	mime, ext, err := DetectImage(pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, ".png", ext)

	_, _, err = DetectImage([]byte("plain text, not an image"))
	assert.Error(t, err)

	_, _, err = DetectImage(zipBytes(t, map[string]string{"a": "b"}))
	assert.Error(t, err)
}

func TestSHA256Hex(t *testing.T) {
	t.Parallel()
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		SHA256Hex(nil))
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		SHA256Hex([]byte("hello")))
}
