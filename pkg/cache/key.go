package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// DeriveKey computes the deterministic cache key for a job: a SHA-256
// digest over the contents of the given lockfiles, in order, followed by
// the matrix identity axes in sorted order. Identical inputs always produce
// the identical key.
func DeriveKey(keyFiles []string, identity map[string]string) (string, error) {
	h := sha256.New()

	for _, path := range keyFiles {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", path, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", path, err)
		}
		h.Write([]byte{0})
	}

	axes := make([]string, 0, len(identity))
	for axis := range identity {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	for _, axis := range axes {
		fmt.Fprintf(h, "%s=%s\n", axis, identity[axis])
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
