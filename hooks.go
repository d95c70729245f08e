package layercache

// Hooks are lightweight callbacks for the chain's side channel.
// Implementations MUST be cheap and non-blocking; they run on the dispatch path.
// Layer names are "<name>_<index>", index 0 being the built-in empty layer.
type Hooks interface {
	// A layer batch was dispatched with this many distinct keys.
	BatchDispatched(layer string, keys int)

	// BatchGet failed wholesale; every key of the batch fell through as a miss.
	LayerFailed(layer string, keys int, err error)

	// keys missed in layer and were forwarded to the next layer or the final fetcher.
	FellThrough(layer string, keys int)

	// Best-effort backfill failed. This is the write-back policy hook:
	// nothing is retried by the chain itself.
	WriteBackFailed(err *WriteBackError)

	// The final fetcher failed a whole batch.
	FinalFailed(keys int, err error)

	// Keys reached the end of the chain while no final fetcher was set.
	FinalMissing(keys int)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) BatchDispatched(string, int)     {}
func (NopHooks) LayerFailed(string, int, error)  {}
func (NopHooks) FellThrough(string, int)         {}
func (NopHooks) WriteBackFailed(*WriteBackError) {}
func (NopHooks) FinalFailed(int, error)          {}
func (NopHooks) FinalMissing(int)                {}
