package autorouter

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

// TestHandler is a sample handler for testing
type TestHandler struct {
	name string
}

// Create is a valid endpoint
func (h *TestHandler) Create(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, "Created by %s", h.name)
}

// Get is a valid endpoint
func (h *TestHandler) Get(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Got data from %s", h.name)
}

// Broken returns an error - should be skipped
func (h *TestHandler) Broken(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// Partial has wrong signature - should be skipped
func (h *TestHandler) Partial(w http.ResponseWriter) {}

// unexported is not exported - should be skipped
func (h *TestHandler) unexported(w http.ResponseWriter, r *http.Request) {}

// Name is not an endpoint - should be skipped
func (h *TestHandler) Name() string {
	return h.name
}

type emptyHandler struct{}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	router := New(mux, "/api/v1/")

	routes, err := router.Register("deal", &TestHandler{name: "test"})
	if err != nil {
		t.Fatalf("Registration failed: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("Expected 2 routes, got %d: %+v", len(routes), routes)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deal.Create", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
	if w.Body.String() != "Created by test" {
		t.Errorf("Unexpected body %q", w.Body.String())
	}

	for _, path := range []string{"/api/v1/deal.Broken", "/api/v1/deal.Partial", "/api/v1/deal.Name", "/api/v1/deal.unexported"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestRegister_PostOnly(t *testing.T) {
	mux := http.NewServeMux()
	if _, err := New(mux, "/api/v1/").Register("deal", &TestHandler{}); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/deal.Get", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestRegister_MiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	mux := http.NewServeMux()
	router := New(mux, "/api/v1/", tag("outer"))
	routes, err := router.Register("deal", &TestHandler{}, tag("auth"))
	if err != nil {
		t.Fatal(err)
	}
	if !routes[0].Protected {
		t.Error("Expected routes registered with extra middleware to be protected")
	}

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/deal.Get", nil))

	if !reflect.DeepEqual(order, []string{"outer", "auth"}) {
		t.Errorf("Unexpected middleware order %v", order)
	}
}

func TestRegister_Errors(t *testing.T) {
	router := New(http.NewServeMux(), "/api/v1/")

	if _, err := router.Register("deal", TestHandler{}); err == nil {
		t.Error("Expected error for non-pointer handler")
	}
	if _, err := router.Register("", &TestHandler{}); err == nil {
		t.Error("Expected error for empty namespace")
	}
	if _, err := router.Register("empty", &emptyHandler{}); err == nil {
		t.Error("Expected error for handler without endpoints")
	}
}

func TestRoutesSorted(t *testing.T) {
	router := New(http.NewServeMux(), "/api/v1/")
	if _, err := router.Register("tracking", &TestHandler{}); err != nil {
		t.Fatal(err)
	}
	if _, err := router.Register("deal", &TestHandler{}); err != nil {
		t.Fatal(err)
	}

	routes := router.Routes()
	want := []string{"/api/v1/deal.Create", "/api/v1/deal.Get", "/api/v1/tracking.Create", "/api/v1/tracking.Get"}
	for i, r := range routes {
		if r.Path != want[i] {
			t.Errorf("route %d: expected %s, got %s", i, want[i], r.Path)
		}
	}
	if routes[0].RPCMethod != "deal.Create" {
		t.Errorf("Unexpected RPC method %s", routes[0].RPCMethod)
	}
}
