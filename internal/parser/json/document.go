// Package json loads record documents: a JSON file whose root is an object mapping
// string ids to record objects.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"equipdb/internal/record"
)

var (
	// ErrMalformedDocument is returned when the root is not an object of string
	// keys, or the text is not valid JSON.
	ErrMalformedDocument = errors.New("malformed record document")

	// ErrDocumentMissing is returned by LoadFile when the document does not exist.
	ErrDocumentMissing = errors.New("record document missing")
)

// LoadFile opens path and loads it with LoadStore. The store is named after the
// file's base name.
func LoadFile(ctx context.Context, path string) (*record.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("json: %s: %w", path, ErrDocumentMissing)
		}
		return nil, fmt.Errorf("json: open %s: %w", path, err)
	}
	defer f.Close()

	st, err := LoadStore(ctx, f, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("json: %s: %w", path, err)
	}
	return st, nil
}

// LoadStore reads one record document from r.
//
// The root must be a JSON object. Each member value is decoded independently:
//   - objects become records, keyed by the member name;
//   - null members are ignored;
//   - any other value is remembered via Store.Reject so callers can report it.
//
// Numbers are decoded with UseNumber so integer ids and magnitudes keep their
// integer form. Anything but whitespace after the root object is malformed.
func LoadStore(ctx context.Context, r io.Reader, name string) (*record.Store, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty input", ErrMalformedDocument)
		}
		return nil, fmt.Errorf("%w: read first token: %v", ErrMalformedDocument, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: root is %s, want object", ErrMalformedDocument, describeToken(tok))
	}

	st := record.NewStore(name)
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: read key: %v", ErrMalformedDocument, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: key is %T, want string", ErrMalformedDocument, keyTok)
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: decode %q: %v", ErrMalformedDocument, key, err)
		}
		switch v := raw.(type) {
		case nil:
		case map[string]any:
			st.Put(key, record.FromMap(v))
		default:
			st.Reject(key, record.FromAny(v).Kind())
		}
	}

	end, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: read object end: %v", ErrMalformedDocument, err)
	}
	if end != json.Delim('}') {
		return nil, fmt.Errorf("%w: expected '}', got %v", ErrMalformedDocument, end)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after root object", ErrMalformedDocument)
	}
	return st, nil
}

func describeToken(tok any) string {
	switch t := tok.(type) {
	case json.Delim:
		if t == '[' {
			return "array"
		}
		return string(t)
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", tok)
	}
}
