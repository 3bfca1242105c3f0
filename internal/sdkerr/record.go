package sdkerr

import (
	"encoding/json"
	"errors"
)

// Domain groups records the way callers tend to branch on them.
const (
	DomainBoundary     = "boundary"
	DomainCancellation = "cancellation"
	DomainAPI          = "api"
	DomainTransport    = "transport"
	DomainIntegrity    = "data_integrity"
	DomainInternal     = "internal"
)

// Record is the structured failure payload delivered to failure callbacks and
// returned alongside non-zero status codes. It never carries a Go error value.
type Record struct {
	Code    Kind    `json:"code"`
	Kind    string  `json:"kind"`
	Domain  string  `json:"domain"`
	Message string  `json:"message"`
	Inner   *Record `json:"inner,omitempty"`
}

// maxInnerDepth bounds the Inner chain so cyclic or very deep wrap chains
// cannot blow up the payload.
const maxInnerDepth = 4

// ToRecord converts err into a Record. A nil err yields the zero Record.
func ToRecord(err error) Record {
	if err == nil {
		return Record{}
	}

	return toRecord(err, 0)
}

func toRecord(err error, depth int) Record {
	kind := Classify(err)
	rec := Record{
		Code:    kind,
		Kind:    kind.String(),
		Domain:  domainFor(kind),
		Message: err.Error(),
	}

	if depth >= maxInnerDepth {
		return rec
	}

	// Only plain single-error chains are followed; the message of the outer
	// error already includes the inner text for joined errors.
	if inner := errors.Unwrap(err); inner != nil && Classify(inner) != kind {
		innerRec := toRecord(inner, depth+1)
		rec.Inner = &innerRec
	}

	return rec
}

func domainFor(kind Kind) string {
	switch kind {
	case KindArgument, KindHandleNotFound, KindHandleTypeMismatch, KindInvalidState:
		return DomainBoundary
	case KindCancelled:
		return DomainCancellation
	case KindAuth, KindNotFound, KindPermission:
		return DomainAPI
	case KindTransientIO:
		return DomainTransport
	case KindIntegrity:
		return DomainIntegrity
	default:
		return DomainInternal
	}
}

// Marshal encodes a record as JSON for the boundary. Encoding a Record cannot
// fail, so the error is swallowed into a minimal fallback payload.
func (r Record) Marshal() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"code":0,"kind":"unknown","domain":"internal","message":"unencodable error"}`)
	}

	return data
}

// Error lets a Record travel as an error inside Go code (for example when a
// foreign sink reports a failure record back to the core).
func (r Record) Error() string {
	return r.Message
}

// Unwrap exposes the sentinel for the record's kind so errors.Is works.
func (r Record) Unwrap() error {
	return sentinelFor(r.Code)
}
