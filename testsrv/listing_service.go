// Package testsrv provides a fake listings service for tests.
package testsrv

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const featuredListings = `[
	{
		"id": "listing-1",
		"title": "Cave campsite in snowy MoundiiX",
		"numOfBeds": 2,
		"costPerNight": 120,
		"closedForBookings": false,
		"amenities": [
			{"id": "am-1", "category": "Accommodation Details", "name": "Interdimensional wifi"},
			{"id": "am-2", "category": "Space Survival"}
		]
	},
	{
		"id": "listing-2",
		"title": "Water world retreat",
		"costPerNight": 95.5,
		"amenities": []
	},
	{
		"id": "listing-3",
		"title": "Desert dome",
		"amenities": [{"id": "am-1"}, {"id": "am-3"}]
	}
]`

var defaultRoutes = map[string]route{
	"/featured-listings": {http.StatusOK, featuredListings},
	"/listings/listing-1": {http.StatusOK, `{
		"id": "listing-1",
		"title": "Cave campsite in snowy MoundiiX",
		"description": "Enjoy this amazing cave campsite",
		"amenities": [{"id": "am-1", "name": "Interdimensional wifi"}]
	}`},
	"/listings/listing-2": {http.StatusOK, `{"id": "listing-2", "title": "Water world retreat"}`},
	"/listings/listing-2/amenities": {http.StatusOK, `[
		{"id": "am-4", "category": "Outdoors", "name": "Pool"},
		{"id": "am-5", "category": "Outdoors", "name": "Sauna"}
	]`},
	"/listings/listing-3/amenities": {http.StatusOK, `[
		{"id": "am-1", "category": "Accommodation Details", "name": "Interdimensional wifi"},
		{"id": "am-3", "category": "Space Survival", "name": "Oxygen tank"}
	]`},
}

type route struct {
	status int
	body   string
}

// ListingService is a fake of the listings REST API. Paths without a route
// answer 404.
type ListingService struct {
	*httptest.Server

	mu      sync.Mutex
	routes  map[string]route
	calls   map[string]int
	headers map[string]http.Header
}

// NewListingService starts a listing service with the default fixtures.
func NewListingService() *ListingService {
	s := &ListingService{
		routes:  make(map[string]route, len(defaultRoutes)),
		calls:   map[string]int{},
		headers: map[string]http.Header{},
	}
	for path, r := range defaultRoutes {
		s.routes[path] = r
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// Handle sets the status and body returned for path.
func (s *ListingService) Handle(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = route{status, body}
}

// Calls returns the number of requests received for path.
func (s *ListingService) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// TotalCalls returns the number of requests received for any path.
func (s *ListingService) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Header returns the headers of the last request received for path.
func (s *ListingService) Header(path string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[path]
}

func (s *ListingService) serveHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.EscapedPath()

	s.mu.Lock()
	s.calls[path]++
	s.headers[path] = r.Header.Clone()
	rt, ok := s.routes[path]
	s.mu.Unlock()

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !ok {
		rt = route{http.StatusNotFound, `{"message": "` + strings.TrimPrefix(path, "/") + ` not found"}`}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rt.status)
	w.Write([]byte(rt.body))
}
