package domain

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	sha256 "github.com/minio/sha256-simd"
)

// ContentHash identifies file content: the SHA-256 digest of the file bytes.
type ContentHash [32]byte

var zeroHash ContentHash

// HashBytes returns the content hash of b.
func HashBytes(b []byte) ContentHash {
	return ContentHash(sha256.Sum256(b))
}

// HashReader hashes everything read from r.
func HashReader(r io.Reader) (ContentHash, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return ContentHash{}, n, err
	}
	var out ContentHash
	copy(out[:], h.Sum(nil))
	return out, n, nil
}

// HashFile hashes the file at path. A missing file yields ErrSourceMissing.
func HashFile(path string) (ContentHash, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ContentHash{}, 0, fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return ContentHash{}, 0, err
	}
	defer f.Close()
	return HashReader(f)
}

func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	s = strings.TrimSpace(s)
	if len(s) != hex.EncodedLen(len(h)) {
		return h, fmt.Errorf("content hash: invalid length %d", len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("content hash: %v", err)
	}
	return h, nil
}

func (h ContentHash) String() string { return hex.EncodeToString(h[:]) }

// Short is a log-friendly prefix of the hex form.
func (h ContentHash) Short() string { return h.String()[:12] }

func (h ContentHash) IsZero() bool { return h == zeroHash }

func (h ContentHash) MarshalText() ([]byte, error) {
	if h.IsZero() {
		return []byte{}, nil
	}
	return []byte(h.String()), nil
}

func (h *ContentHash) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*h = ContentHash{}
		return nil
	}
	parsed, err := ParseContentHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// SnapshotHash is the hex form of a snapshot's aggregate hash.
type SnapshotHash string
