package google

import "errors"

var (
	ErrNotConfigured = errors.New("google sheets is not configured")
	ErrRowNotFound   = errors.New("row not found")
)

// ErrorKind classifies why a sheet operation did not happen.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindConfig
	KindTransport
	KindSource
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindSource:
		return "source"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Result is the outcome of a sheet operation. Sheet operations never return
// bare errors: callers check OK and treat a failure as "sync did not happen".
type Result struct {
	Kind ErrorKind
	Err  error
	// Rows is the number of rows written or cleared.
	Rows int
	// Buckets is the number of date groups written by a full resync.
	Buckets int
	// Row is the 1-based sheet row touched by a single-row operation.
	Row int
}

func (r Result) OK() bool {
	return r.Kind == KindNone
}

func failure(kind ErrorKind, err error) Result {
	return Result{Kind: kind, Err: err}
}
