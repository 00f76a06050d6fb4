// Package ierrors implements the agent's closed error taxonomy (C1):
// coded errors IE001 through IE076, each with a canonical message, a
// documentation URL, an optional cause, and a per-code Prometheus
// counter.
package ierrors

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Code identifies one entry in the closed error taxonomy.
type Code string

// Disposition classifies how a caught error should be handled, per
// spec.md §7.
type Disposition int

const (
	// DispositionTransientRetry means: retry in place, caller keeps
	// operating on previous state.
	DispositionTransientRetry Disposition = iota
	// DispositionTransientRequeue means: the work item is re-queued for
	// a later tick.
	DispositionTransientRequeue
	// DispositionFatalTx means: fatal for this transaction attempt, but
	// safe to re-enter (e.g. resubmit with bumped gas).
	DispositionFatalTx
	// DispositionFatalSession means: fatal for this session; requires
	// manual or out-of-band reconciliation.
	DispositionFatalSession
	// DispositionWaitRetry means: wait for an external condition (e.g.
	// gas ceiling) then retry; not a failure.
	DispositionWaitRetry
	// DispositionProgrammerError means: an invariant the caller is
	// expected to have already checked was violated.
	DispositionProgrammerError
	// DispositionInvariant means: a domain invariant (e.g. grafting
	// lineage) was violated.
	DispositionInvariant
)

const docBaseURL = "https://github.com/graphprotocol/indexer/blob/main/docs/errors.md#"

// entry is one row of the closed error table.
type entry struct {
	message     string
	disposition Disposition
}

// table is the closed set of known error codes. It also lists some
// codes this core never raises itself (IE035, IE036); an unknown code
// is a programmer error at construction time (see New).
var table = map[Code]entry{
	"IE010": {"failed to query eligible allocations", DispositionTransientRetry},
	"IE018": {"failed to query indexing status", DispositionTransientRetry},
	"IE019": {"failed to query proof of indexing", DispositionTransientRetry},
	"IE020": {"failed to create subgraph deployment name", DispositionTransientRetry},
	"IE024": {"failed to query subgraph freshness", DispositionTransientRetry},
	"IE025": {"network subgraph reported a block ahead of the chain head", DispositionTransientRetry},
	"IE026": {"failed to deploy subgraph", DispositionTransientRetry},
	"IE027": {"failed to pause subgraph deployment", DispositionTransientRetry},
	"IE028": {"failed to reassign subgraph deployment", DispositionTransientRetry},
	"IE035": {"unhandled rejection", DispositionTransientRetry},
	"IE036": {"uncaught exception", DispositionTransientRetry},
	"IE050": {"transaction reverted: out of gas", DispositionFatalTx},
	"IE051": {"transaction reverted: reason unavailable", DispositionFatalTx},
	"IE053": {"failed to collect receipts for allocation", DispositionTransientRequeue},
	"IE054": {"failed to exchange receipts for a voucher", DispositionTransientRequeue},
	"IE055": {"failed to redeem voucher or RAV on chain", DispositionTransientRequeue},
	"IE056": {"failed to remember allocation", DispositionTransientRequeue},
	"IE057": {"transaction reverted", DispositionFatalTx},
	"IE058": {"transaction nonce already used; agent must reconcile", DispositionFatalSession},
	"IE070": {"failed to resolve block hash from number", DispositionTransientRetry},
	"IE073": {"failed to query subgraph features", DispositionTransientRetry},
	"IE074": {"network not supported by graph-node", DispositionTransientRetry},
	"IE075": {"grafting lineage invariant violated", DispositionInvariant},
	"IE076": {"failed to resume subgraph deployment", DispositionTransientRetry},
}

var errorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "indexer_error",
		Help: "Count of coded indexer agent errors by code.",
	},
	[]string{"code"},
)

func init() {
	prometheus.MustRegister(errorsTotal)
}

// IndexerError is the concrete error type raised by the core. It is
// always constructed through New so every instance corresponds to a
// known table entry and has already incremented its metric.
type IndexerError struct {
	Code    Code
	Message string
	Cause   error
	// Payload carries structured detail the caller may want to log or
	// inspect (e.g. a grafting lineage for IE075).
	Payload interface{}
}

// New constructs and records an IndexerError for the given code. detail,
// if non-empty, is appended to the canonical message. cause may be nil.
func New(code Code, detail string, cause error) *IndexerError {
	e, ok := table[code]
	if !ok {
		// A code outside the closed table is a programmer error: the
		// caller used a code this package doesn't know about.
		panic(fmt.Sprintf("ierrors: unknown code %q", code))
	}

	errorsTotal.WithLabelValues(string(code)).Inc()

	msg := e.message
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}

	return &IndexerError{Code: code, Message: msg, Cause: cause}
}

// WithPayload attaches structured detail to the error and returns it for
// chaining, e.g. ierrors.New(...).WithPayload(lineage).
func (e *IndexerError) WithPayload(p interface{}) *IndexerError {
	e.Payload = p
	return e
}

// Error implements the error interface.
func (e *IndexerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s [cause: %s]", e.Code, e.docURL(), e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.docURL(), e.Message)
}

// Unwrap allows errors.Is/errors.As to reach the cause.
func (e *IndexerError) Unwrap() error {
	return e.Cause
}

func (e *IndexerError) docURL() string {
	return docBaseURL + string(e.Code)
}

// Disposition reports how this error should be handled by its caller, per
// the taxonomy in spec.md §7.
func (e *IndexerError) Disposition() Disposition {
	return table[e.Code].disposition
}

// ProgrammerError panics with a message identifying a violated internal
// invariant (e.g. an empty batch popped from the receipt heap). These are
// never part of the coded table: they indicate a bug in this process,
// not a condition any caller can recover from.
func ProgrammerError(format string, args ...interface{}) {
	panic(fmt.Sprintf("programmer error: "+format, args...))
}
