package codec

import "fmt"

// Limit rejects payloads larger than MaxDecode before handing them to Inner,
// which keeps an oversized value in a shared store from being decoded.
// MaxDecode <= 0 disables the check. Encode is not limited.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

// TooLargeError is returned by Limit.Decode.
type TooLargeError struct {
	Size, Max int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("codec: payload too large: %d > %d", e.Size, e.Max)
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, &TooLargeError{Size: len(b), Max: c.MaxDecode}
	}
	return c.Inner.Decode(b)
}
