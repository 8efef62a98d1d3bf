package airlock

import (
	"context"
	"net/http"
)

// RequestIDHeader carries the request id to the listings service.
const RequestIDHeader = "X-Request-Id"

type contextKey string
type airlockContextKey int

const requestContextKey airlockContextKey = 1
const requestHeaderContextKey airlockContextKey = 2

// RequestContext is created for every GraphQL request. The client is owned by
// the request; the cache is shared by the whole process.
type RequestContext struct {
	Listings ListingClient
	Cache    ResponseCache
}

// AddRequestContext stores rc in the context for the resolvers.
func AddRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// GetRequestContext returns the request context stored in ctx
func GetRequestContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(*RequestContext)
	if !ok || rc == nil {
		return nil, false
	}
	return rc, true
}

// AddOutgoingRequestsHeaderToContext adds a header to all outgoing requests for the current query
func AddOutgoingRequestsHeaderToContext(ctx context.Context, key, value string) context.Context {
	h, ok := ctx.Value(requestHeaderContextKey).(http.Header)
	if !ok {
		h = make(http.Header)
	} else {
		h = h.Clone()
	}
	h.Add(key, value)

	return context.WithValue(ctx, requestHeaderContextKey, h)
}

// GetOutgoingRequestHeadersFromContext get the headers that should be added to outgoing requests
func GetOutgoingRequestHeadersFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(requestHeaderContextKey).(http.Header)
	return h
}
