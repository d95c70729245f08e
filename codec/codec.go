// Package codec converts layer values to and from bytes for the layers that
// store raw payloads (Redis, BigCache, bbolt). In-process layers that keep
// values as-is do not need one.
package codec

// Codec encodes V for storage and decodes it back.
// Decode errors are treated by layers as a miss for that key.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
