package changeset

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// HashFile computes the xxHash64 fingerprint of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return encode(h.Sum64()), nil
}

// HashBytes computes the xxHash64 fingerprint of data.
func HashBytes(data []byte) string {
	return encode(xxhash.Sum64(data))
}

// HashString is HashBytes for strings without a copy.
func HashString(s string) string {
	return encode(xxhash.Sum64String(s))
}

func encode(sum uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], sum)
	return hex.EncodeToString(buf[:])
}
