package storage

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

// Digest is a BLAKE2b-256 fingerprint of a snapshot: the ordered paths, their
// content and the active path. Fields are length-prefixed so no two snapshots
// share an encoding.
func Digest(snap vfs.Snapshot) string {
	h, _ := blake2b.New256(nil)
	var buf []byte
	write := func(s string) {
		buf = binary.AppendUvarint(buf[:0], uint64(len(s)))
		h.Write(buf)
		h.Write([]byte(s))
	}
	for _, f := range snap.Files {
		write(f.Path)
		write(f.Content)
	}
	write(snap.ActivePath)
	return hex.EncodeToString(h.Sum(nil))
}

func payloadSum(data []byte) [blake2b.Size256]byte {
	return blake2b.Sum256(data)
}
