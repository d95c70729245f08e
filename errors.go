package layercache

import (
	"errors"
	"fmt"
)

var (
	// ErrMiss is the canonical "not in this layer" signal.
	ErrMiss = errors.New("layercache: miss")
	// ErrNoFinal is wrapped by ConfigError when no final fetcher is installed.
	ErrNoFinal = errors.New("layercache: final fetcher not set")
)

// ConfigError fails a load that needed the final fetcher while none was set.
type ConfigError struct {
	Key any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("layercache: load %v: final fetcher not set", e.Key)
}

func (e *ConfigError) Unwrap() error { return ErrNoFinal }

// FetchError is returned for a key the final fetcher could not resolve,
// either because it rejected that key or because the whole batch failed.
type FetchError struct {
	Key any
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("layercache: fetch %v: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// WriteBackError describes a failed backfill. It never reaches Load callers;
// it is passed to Hooks.WriteBackFailed and logged.
type WriteBackError struct {
	Layer string
	Keys  int
	Err   error
}

func (e *WriteBackError) Error() string {
	return fmt.Sprintf("layercache: backfill %s (%d keys): %v", e.Layer, e.Keys, e.Err)
}

func (e *WriteBackError) Unwrap() error { return e.Err }

// errBadLength is reported when a layer or fetcher returns a result slice
// whose length does not match the requested keys.
type errBadLength struct {
	want, got int
}

func (e errBadLength) Error() string {
	return fmt.Sprintf("layercache: batch returned %d results for %d keys", e.got, e.want)
}
