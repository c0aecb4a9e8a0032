package model

import (
	"context"
	"fmt"
)

// RequestContext carries caller identity and tracing information for the
// lifetime of a request. It is immutable after construction and safe for
// concurrent reads. Authentication is handled upstream of this service; the
// transport layer fills SubjectID from trusted headers.
type RequestContext struct {
	SubjectID     string
	CorrelationID string
	TraceID       string
}

// Validate checks that all mandatory fields are present.
func (rc *RequestContext) Validate() error {
	if rc.SubjectID == "" {
		return fmt.Errorf("SubjectID is required")
	}
	return nil
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns
// nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
