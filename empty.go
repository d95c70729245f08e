package layercache

import "context"

// emptyLayer misses every key. It sits at slot 0 of every chain.
type emptyLayer[K comparable, V any] struct{}

var _ Layer[string, int] = emptyLayer[string, int]{}

func (emptyLayer[K, V]) Name() string { return "empty" }

func (emptyLayer[K, V]) BatchGet(_ context.Context, keys []K) ([]Result[V], error) {
	out := make([]Result[V], len(keys))
	for i := range out {
		out[i] = Miss[V]()
	}
	return out, nil
}

func (emptyLayer[K, V]) BatchSet(context.Context, map[K]V) error { return nil }
