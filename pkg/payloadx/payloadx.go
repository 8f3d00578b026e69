// Package payloadx provides upload payload validation helpers used across the project.
package payloadx

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ValidateZIP checks that data is a readable, non-empty ZIP archive.
func ValidateZIP(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("zip: %w", err)
	}
	if len(zr.File) == 0 {
		return fmt.Errorf("zip: archive contains no entries")
	}
	return nil
}

// ValidateXML checks that data is well-formed XML by consuming every token.
func ValidateXML(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	seen := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("xml: %w", err)
		}
		if _, ok := tok.(xml.StartElement); ok {
			seen = true
		}
	}
	if !seen {
		return fmt.Errorf("xml: no elements")
	}
	return nil
}

// ValidateJSON checks that data is a single valid JSON document.
func ValidateJSON(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("json: invalid document")
	}
	return nil
}

// DetectImage sniffs data and returns its MIME type and canonical file
// extension when it is a raster image format, or an error otherwise.
func DetectImage(data []byte) (mime, ext string, err error) {
	m := mimetype.Detect(data)
	if !strings.HasPrefix(m.String(), "image/") {
		return "", "", fmt.Errorf("image: unsupported content type %s", m.String())
	}
	return m.String(), m.Extension(), nil
}

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
