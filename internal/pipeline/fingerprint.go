package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Names returns the document file names in run order.
func (d Documents) Names() []string {
	return []string{d.Stats, d.WeaponProperty, d.WeaponName}
}

// Fingerprint computes a deterministic SHA-256 over the named files in dir.
//
// Canonical form:
//   - Components are joined with the ASCII unit separator (0x1f).
//   - Each component is "name=" followed by the file bytes.
//   - A missing file is a single NUL byte, so missing differs from empty.
//
// Output is a lowercase hex string (length 64).
func Fingerprint(dir string, names ...string) (string, error) {
	h := sha256.New()
	for i, name := range names {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		io.WriteString(h, name)
		h.Write([]byte{'='})

		f, err := os.Open(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			h.Write([]byte{0})
			continue
		}
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", name, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", name, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
