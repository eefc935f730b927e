package dss

import "pkt.systems/dss/internal/dsserr"

// Error is the concrete type of every classified dss failure.
type Error = dsserr.Error

var (
	// ErrNetwork indicates the discovery endpoint could not be reached.
	ErrNetwork = dsserr.ErrNetwork
	// ErrDiscover indicates the topology document is missing or invalid.
	ErrDiscover = dsserr.ErrDiscover
	// ErrGeneric covers uncategorised transport and local file failures.
	ErrGeneric = dsserr.ErrGeneric
	// ErrNoSuchResource indicates a missing object or bucket.
	ErrNoSuchResource = dsserr.ErrNoSuchResource
	// ErrFileIO indicates a download destination could not be written.
	ErrFileIO = dsserr.ErrFileIO
	// ErrNewClient indicates bootstrap verification failed.
	ErrNewClient = dsserr.ErrNewClient
	// ErrNoIterator indicates an exhausted cursor was advanced again.
	ErrNoIterator = dsserr.ErrNoIterator
)
