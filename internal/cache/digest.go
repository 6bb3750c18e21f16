package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type Digest [sha256.Size]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d was never computed.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Key hashes the msgpack encoding of parts in order. Map keys are sorted so
// equal inputs always give equal digests.
func Key(parts ...any) (Digest, error) {
	h := sha256.New()
	enc := msgpack.NewEncoder(h)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(schemaVersion); err != nil {
		return Digest{}, err
	}
	for i, p := range parts {
		if err := enc.Encode(p); err != nil {
			return Digest{}, fmt.Errorf("cache key part %d: %w", i, err)
		}
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out, nil
}
