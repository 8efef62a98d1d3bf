package plugins

import (
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/movio/airlock"
)

// RequestIDHeader carries the request id inbound and on the response.
const RequestIDHeader = airlock.RequestIDHeader

func init() {
	airlock.RegisterPlugin(&RequestIdentifierPlugin{})
}

type RequestIdentifierPlugin struct {
	airlock.BasePlugin
}

func (p *RequestIdentifierPlugin) ID() string {
	return "request-id"
}

func (p *RequestIdentifierPlugin) middleware(h http.Handler) http.HandlerFunc {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)

		ctx := r.Context()
		if strings.TrimSpace(requestID) == "" {
			requestID = uuid.Must(uuid.NewV4()).String()
		} else if id, err := uuid.FromString(requestID); err == nil {
			requestID = id.String()
		}
		airlock.AddField(ctx, "request.id", requestID)
		rw.Header().Set(RequestIDHeader, requestID)

		ctx = airlock.AddOutgoingRequestsHeaderToContext(ctx, RequestIDHeader, requestID)
		h.ServeHTTP(rw, r.WithContext(ctx))
	})
}

func (p *RequestIdentifierPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return p.middleware(h)
}

func (p *RequestIdentifierPlugin) ApplyMiddlewarePrivateMux(h http.Handler) http.Handler {
	return p.middleware(h)
}
