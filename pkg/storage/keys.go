// Package storage provides the BadgerDB-backed storage engine for
// electric-moray buckets and objects.
package storage

// Key encoding helpers
// ============================================================================

// Key space layout. Every key starts with a single type prefix byte and uses
// 0x00 as a component separator, so prefix scans never bleed across buckets.
const (
	prefixObject      byte = 0x01
	prefixBucket      byte = 0x02
	prefixUniqueIndex byte = 0x03
)

// objectKey creates a key for storing an object.
// Format: prefixObject + bucket + 0x00 + key
func objectKey(bucket, key string) []byte {
	k := make([]byte, 0, 1+len(bucket)+1+len(key))
	k = append(k, prefixObject)
	k = append(k, bucket...)
	k = append(k, 0x00)
	k = append(k, key...)
	return k
}

// objectPrefix returns the prefix for scanning all objects in a bucket.
func objectPrefix(bucket string) []byte {
	k := make([]byte, 0, 1+len(bucket)+1)
	k = append(k, prefixObject)
	k = append(k, bucket...)
	k = append(k, 0x00)
	return k
}

// bucketKey creates a key for storing a bucket configuration.
func bucketKey(name string) []byte {
	return append([]byte{prefixBucket}, name...)
}

// uniqueIndexKey creates a key for a unique-index entry. The stored value is
// the object key currently holding the indexed value.
// Format: prefixUniqueIndex + bucket + 0x00 + field + 0x00 + value token
func uniqueIndexKey(bucket, field, valueToken string) []byte {
	k := make([]byte, 0, 1+len(bucket)+1+len(field)+1+len(valueToken))
	k = append(k, prefixUniqueIndex)
	k = append(k, bucket...)
	k = append(k, 0x00)
	k = append(k, field...)
	k = append(k, 0x00)
	k = append(k, valueToken...)
	return k
}

// uniqueIndexPrefix returns the prefix for scanning all unique-index entries
// of a bucket.
func uniqueIndexPrefix(bucket string) []byte {
	k := make([]byte, 0, 1+len(bucket)+1)
	k = append(k, prefixUniqueIndex)
	k = append(k, bucket...)
	k = append(k, 0x00)
	return k
}
