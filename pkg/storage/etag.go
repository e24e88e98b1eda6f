package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

// etagBytes is the number of hash bytes kept in an etag. 8 bytes (16 hex
// chars) keeps etags short while leaving collisions negligible for
// per-(bucket,key) version comparison.
const etagBytes = 8

// computeEtag derives the opaque version token for a stored object. The etag
// is a pure function of bucket, key and the encoded document, so identical
// content versions always carry identical etags.
func computeEtag(bucket, key string, encodedValue []byte) string {
	h := sha256.New()
	h.Write([]byte(bucket))
	h.Write([]byte{0x00})
	h.Write([]byte(key))
	h.Write([]byte{0x00})
	h.Write(encodedValue)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:etagBytes])
}
