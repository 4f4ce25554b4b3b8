// Package checksum computes content digests of uploaded version payloads.
//
// The digest identifies content (same bytes, same digest); it is not used as
// an authentication boundary for uploads.
package checksum

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"golang.org/x/crypto/sha3"
)

// ChunkSize is the number of bytes read from the payload at a time.
const ChunkSize = 4096

// Size is the digest length in bytes (SHA3-512).
const Size = 64

// Compute streams r through SHA3-512 in ChunkSize pieces and returns the
// digest. Read failures are wrapped with common.ErrIO.
func Compute(r io.Reader) ([]byte, error) {
	h := sha3.New512()
	buf := make([]byte, ChunkSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading payload: %v", common.ErrIO, err)
		}
	}

	return h.Sum(nil), nil
}

// Equal reports whether two digests are identical.
func Equal(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
