package airlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ListingClient fetches listings and amenities from the listings service.
type ListingClient interface {
	FeaturedListings(ctx context.Context) ([]*Listing, error)
	Listing(ctx context.Context, id string) (*Listing, error)
	Amenities(ctx context.Context, listingID string) ([]*Amenity, error)
}

const (
	opFeaturedListings = "featured-listings"
	opListing          = "listing"
	opAmenities        = "amenities"
)

// RESTClient is the ListingClient talking to the listings REST API.
type RESTClient struct {
	BaseURL         string
	HTTPClient      *http.Client
	MaxResponseSize int64
	UserAgent       string
	Cache           ResponseCache
	CacheTTL        time.Duration
	Limiter         *rate.Limiter

	tracer trace.Tracer
}

// ClientOpt is a function used to set a RESTClient option
type ClientOpt func(*RESTClient)

// NewHTTPClient returns the http.Client used for upstream requests. Outgoing
// requests propagate the current trace.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// NewRESTClient creates a new RESTClient for the given base URL.
func NewRESTClient(baseURL string, opts ...ClientOpt) *RESTClient {
	c := &RESTClient{
		BaseURL:         baseURL,
		HTTPClient:      NewHTTPClient(5 * time.Second),
		MaxResponseSize: 1024 * 1024,
		Cache:           NoopCache{},
		CacheTTL:        30 * time.Second,
		tracer:          otel.GetTracerProvider().Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient sets the http.Client used for upstream requests.
func WithHTTPClient(client *http.Client) ClientOpt {
	return func(c *RESTClient) {
		c.HTTPClient = client
	}
}

// WithMaxResponseSize sets the max allowed response size. The client will only
// read up to maxResponseSize and if that size is exceeded an error will be
// returned.
func WithMaxResponseSize(maxResponseSize int64) ClientOpt {
	return func(c *RESTClient) {
		c.MaxResponseSize = maxResponseSize
	}
}

// WithUserAgent set the user agent used by the client.
func WithUserAgent(userAgent string) ClientOpt {
	return func(c *RESTClient) {
		c.UserAgent = userAgent
	}
}

// WithCache makes the client read and store response bodies in cache.
func WithCache(cache ResponseCache) ClientOpt {
	return func(c *RESTClient) {
		if cache != nil {
			c.Cache = cache
		}
	}
}

// WithTimeout sets the timeout of the client's http.Client. It copies the
// client set so far, so it must come after WithHTTPClient.
func WithTimeout(timeout time.Duration) ClientOpt {
	return func(c *RESTClient) {
		hc := *c.HTTPClient
		hc.Timeout = timeout
		c.HTTPClient = &hc
	}
}

func WithCacheTTL(ttl time.Duration) ClientOpt {
	return func(c *RESTClient) {
		c.CacheTTL = ttl
	}
}

// WithRateLimit makes every request wait on limiter first. The limiter is
// usually shared by all the clients of a gateway.
func WithRateLimit(limiter *rate.Limiter) ClientOpt {
	return func(c *RESTClient) {
		c.Limiter = limiter
	}
}

// FeaturedListings returns the featured listings, in the order returned by
// the listings service.
func (c *RESTClient) FeaturedListings(ctx context.Context) ([]*Listing, error) {
	u, err := c.url("featured-listings")
	if err != nil {
		return nil, &UpstreamError{Op: opFeaturedListings, Err: err}
	}
	var listings []*Listing
	if err := c.get(ctx, opFeaturedListings, u, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}

// Listing returns a single listing.
func (c *RESTClient) Listing(ctx context.Context, id string) (*Listing, error) {
	if id == "" {
		return nil, &UpstreamError{Op: opListing, Err: errors.New("listing id must not be empty")}
	}
	u, err := c.url("listings", url.PathEscape(id))
	if err != nil {
		return nil, &UpstreamError{Op: opListing, Err: err}
	}
	// a null body decodes to a nil listing
	var listing *Listing
	if err := c.get(ctx, opListing, u, &listing); err != nil {
		return nil, notFound(err, "listing", id)
	}
	return listing, nil
}

// Amenities returns the amenities of a listing.
func (c *RESTClient) Amenities(ctx context.Context, listingID string) ([]*Amenity, error) {
	if listingID == "" {
		return nil, &UpstreamError{Op: opAmenities, Err: errors.New("listing id must not be empty")}
	}
	u, err := c.url("listings", url.PathEscape(listingID), "amenities")
	if err != nil {
		return nil, &UpstreamError{Op: opAmenities, Err: err}
	}
	var amenities []*Amenity
	if err := c.get(ctx, opAmenities, u, &amenities); err != nil {
		return nil, notFound(err, "listing", listingID)
	}
	return amenities, nil
}

// notFound turns an upstream 404 into a NotFoundError
func notFound(err error, resource, id string) error {
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode == http.StatusNotFound {
		return &NotFoundError{Resource: resource, ID: id, URL: upErr.URL}
	}
	return err
}

// url joins already escaped path segments to the base URL.
func (c *RESTClient) url(segments ...string) (string, error) {
	return url.JoinPath(c.BaseURL, segments...)
}

func (c *RESTClient) get(ctx context.Context, op, u string, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, "upstream "+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", u)),
	)
	defer span.End()

	key := cacheKey(u, GetOutgoingRequestHeadersFromContext(ctx))
	if body, ok := c.Cache.Get(ctx, key); ok {
		if err := json.Unmarshal(body, out); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			IncrementField(ctx, "upstream.cache_hits")
			return nil
		}
	}

	body, err := c.fetch(ctx, op, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		err := &UpstreamError{Op: op, URL: u, Err: fmt.Errorf("error decoding response: %w", err)}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.Cache.Set(ctx, key, body, c.CacheTTL)
	return nil
}

// cacheKey is the request URL followed by the forwarded headers, which may
// change the response. The request id is left out.
func cacheKey(u string, headers http.Header) string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		if name == RequestIDHeader {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return u
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(u)
	for _, name := range names {
		b.WriteString("\n")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(strings.Join(headers[name], ", "))
	}
	return b.String()
}

// fetch issues exactly one GET and returns the body of a 2xx response.
func (c *RESTClient) fetch(ctx context.Context, op, u string) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, &UpstreamError{Op: op, URL: u, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &UpstreamError{Op: op, URL: u, Err: fmt.Errorf("unable to create request: %w", err)}
	}

	if headers := GetOutgoingRequestHeadersFromContext(ctx); headers != nil {
		req.Header = headers.Clone()
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	IncrementField(ctx, "upstream.requests")
	start := time.Now()
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		observeUpstream(op, "error", time.Since(start))
		return nil, &UpstreamError{Op: op, URL: u, Err: fmt.Errorf("error during request: %w", err)}
	}
	defer res.Body.Close()
	observeUpstream(op, strconv.Itoa(res.StatusCode), time.Since(start))

	maxResponseSize := c.MaxResponseSize
	if maxResponseSize == 0 {
		maxResponseSize = math.MaxInt64
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, &UpstreamError{
			Op:         op,
			URL:        u,
			StatusCode: res.StatusCode,
			Err:        errors.New(http.StatusText(res.StatusCode) + statusDetail(msg)),
		}
	}

	// read one extra byte to tell a body of exactly maxResponseSize from a
	// bigger one
	limit := maxResponseSize
	if limit < math.MaxInt64 {
		limit++
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, limit))
	if err != nil {
		return nil, &UpstreamError{Op: op, URL: u, Err: fmt.Errorf("error reading response: %w", err)}
	}
	if int64(len(body)) > maxResponseSize {
		return nil, &UpstreamError{Op: op, URL: u, Err: fmt.Errorf("response exceeded maximum size of %d bytes", maxResponseSize)}
	}

	return body, nil
}

func statusDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return ": " + string(body)
}

// GenerateUserAgent returns the user agent sent to the listings service.
func GenerateUserAgent(operation string) string {
	return fmt.Sprintf("Airlock/%s (%s)", Version, operation)
}
