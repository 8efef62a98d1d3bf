package airlock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
)

type middleware func(http.Handler) http.Handler

func monitoringMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, event := startEvent(r.Context(), "request")
		defer event.finish()

		promHTTPInFlightGauge.Inc()
		defer promHTTPInFlightGauge.Dec()

		if host := r.Header.Get("X-Forwarded-Host"); host != "" {
			event.addField("forwarded_host", host)
		}

		var buf bytes.Buffer
		_, err := io.Copy(&buf, r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		r.Body = io.NopCloser(&buf)

		r = r.WithContext(ctx)

		addRequestBody(event, r, buf)

		m := httpsnoop.CaptureMetrics(h, w, r)

		event.addFields(EventFields{
			"response.status": m.Code,
			"request.path":    r.URL.Path,
			"response.size":   m.Written,
		})

		promHTTPRequestCounter.With(prometheus.Labels{
			"code": fmt.Sprintf("%dXX", m.Code/100),
		}).Inc()
		promHTTPRequestSizes.With(prometheus.Labels{}).Observe(float64(buf.Len()))
		promHTTPResponseSizes.With(prometheus.Labels{}).Observe(float64(m.Written))
		promHTTPResponseDurations.With(prometheus.Labels{}).Observe(m.Duration.Seconds())
	})
}

func addRequestBody(e *event, r *http.Request, buf bytes.Buffer) {
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	e.addField("request.content-type", contentType)

	if r.Method == http.MethodHead || r.Method == http.MethodGet {
		e.addField("request.body", buf.String())
		return
	}

	switch {
	case contentType == "application/json":
		var payload interface{}
		if err := json.Unmarshal(buf.Bytes(), &payload); err == nil {
			e.addField("request.body", &payload)
		} else {
			e.addField("request.body", buf.String())
			e.addField("request.error", err)
		}
	case strings.HasPrefix(contentType, "multipart/"):
		e.addField("request.body", fmt.Sprintf("%d bytes", buf.Len()))
	default:
		e.addField("request.body", buf.String())
	}
}

func applyMiddleware(h http.Handler, mws ...middleware) http.Handler {
	for _, mw := range mws {
		h = mw(h)
	}
	return h
}
