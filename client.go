package rop

import "context"

// SearchOptions carries the paging/ordering arguments of a domain search.
type SearchOptions struct {
	// Offset is the number of matching records to skip.
	Offset int
	// Limit caps the number of returned records; 0 means no limit.
	Limit int
	// Order is the server-side sort specification, e.g. "name asc, id desc".
	Order string
}

// Client is the remote-client capability ROP subsystems are written against. The wire
// implementation lives in package jsonrpc; package cache and package transaction provide
// Client wrappers that layer response caching and operation recording on top, so the
// three compose: transaction.TrackedClient -> cache.Client -> jsonrpc.Client.
//
// Every mutating call is committed by the server the moment it returns; there is no
// server-side transaction boundary (see the compensation model notes in this package's doc).
type Client interface {
	// Create inserts one record and returns its new ID.
	Create(ctx context.Context, model string, data Record) (int64, error)
	// CreateBulk inserts many records in one call and returns their new IDs in input order.
	CreateBulk(ctx context.Context, model string, records []Record) ([]int64, error)
	// Read fetches the given fields of the given records. Passing no fields fetches all.
	Read(ctx context.Context, model string, ids []int64, fields []string) ([]Record, error)
	// Write updates the given fields on all given records.
	Write(ctx context.Context, model string, ids []int64, data Record) error
	// Delete removes the given records.
	Delete(ctx context.Context, model string, ids []int64) error
	// Search returns the IDs of records matching the domain filter. Use package query to
	// build the domain; pass nil to match all.
	Search(ctx context.Context, model string, domain []any, opts SearchOptions) ([]int64, error)
	// SearchRead combines Search and Read in one server round trip.
	SearchRead(ctx context.Context, model string, domain []any, fields []string, opts SearchOptions) ([]Record, error)
	// Execute invokes an arbitrary method on the model, e.g. a server-side business action.
	Execute(ctx context.Context, model string, method string, ids []int64, kwargs Record) (any, error)
}

// Pinger is implemented by clients that can probe server health cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CloseableClient is a Client owning resources (connections, pools) that need releasing.
type CloseableClient interface {
	Client
	Close() error
}
