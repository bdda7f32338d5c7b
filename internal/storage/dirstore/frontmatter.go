package dirstore

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// frontMatterDelim separates the TOML header from the markdown body.
const frontMatterDelim = "+++"

// EncodeDoc serializes front matter metadata and a body into the on-disk form:
//
//	+++
//	<toml>
//	+++
//
//	<body>
func EncodeDoc(meta any, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	if err := toml.NewEncoder(&buf).Encode(meta); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	buf.WriteString(frontMatterDelim + "\n")
	if body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

// DecodeDoc parses an on-disk document, unmarshaling the TOML header into meta
// and returning the trimmed body.
func DecodeDoc(data []byte, meta any) (string, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim) {
		return "", fmt.Errorf("missing front matter delimiter")
	}
	rest := text[len(frontMatterDelim):]
	idx := strings.Index(rest, "\n"+frontMatterDelim)
	if idx < 0 {
		return "", fmt.Errorf("unterminated front matter")
	}

	header := rest[:idx]
	if err := toml.Unmarshal([]byte(header), meta); err != nil {
		return "", fmt.Errorf("decode front matter: %w", err)
	}

	body := rest[idx+len("\n"+frontMatterDelim):]
	body = strings.TrimPrefix(body, "\n")
	return strings.TrimLeft(body, "\n"), nil
}

// WriteDoc atomically writes an entity document with TOML front matter.
func (ds *DirStore) WriteDoc(id, filename string, meta any, body string) error {
	data, err := EncodeDoc(meta, body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filename, err)
	}
	return ds.WriteFileAtomic(id, filename, data)
}

// ReadDoc reads an entity document, filling meta from the front matter and
// returning the body.
func (ds *DirStore) ReadDoc(id, filename string, meta any) (string, error) {
	data, err := os.ReadFile(ds.FilePath(id, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s not found: %s", ds.entityName, id)
		}
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	body, err := DecodeDoc(data, meta)
	if err != nil {
		return "", fmt.Errorf("parse %s for %s %s: %w", filename, ds.entityName, id, err)
	}
	return body, nil
}
