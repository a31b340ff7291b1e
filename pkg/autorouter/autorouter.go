// Package autorouter registers the exported methods of handler structs as
// JSON-RPC endpoints named <prefix><namespace>.<Method>.
package autorouter

import (
	"fmt"
	"net/http"
	"reflect"
	"sort"
)

// Middleware wraps an http.Handler
type Middleware = func(http.Handler) http.Handler

// Route describes one registered endpoint
type Route struct {
	Path      string
	RPCMethod string
	Protected bool
}

// Router registers handler methods on a ServeMux. Endpoints only accept
// POST; other verbs get 405 from the mux.
type Router struct {
	mux        *http.ServeMux
	prefix     string
	middleware []Middleware
	routes     []Route
}

// New creates a router whose middleware wraps every endpoint it registers
func New(mux *http.ServeMux, prefix string, middleware ...Middleware) *Router {
	return &Router{
		mux:        mux,
		prefix:     prefix,
		middleware: middleware,
	}
}

var (
	responseWriterType = reflect.TypeOf((*http.ResponseWriter)(nil)).Elem()
	requestType        = reflect.TypeOf((*http.Request)(nil))
)

// Register adds every exported method of handler with the signature
// func(http.ResponseWriter, *http.Request). extra middleware runs inside
// the router's own chain.
func (rt *Router) Register(namespace string, handler any, extra ...Middleware) ([]Route, error) {
	value := reflect.ValueOf(handler)
	typ := value.Type()
	if typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("autorouter: %s handler must be a pointer to struct, got %s", namespace, typ)
	}
	if namespace == "" {
		return nil, fmt.Errorf("autorouter: namespace is required")
	}

	chain := append(append([]Middleware{}, rt.middleware...), extra...)

	var added []Route
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !IsHandlerFunc(value.Method(i).Type()) {
			continue
		}

		fn := value.Method(i).Interface().(func(http.ResponseWriter, *http.Request))
		route := Route{
			Path:      rt.prefix + namespace + "." + method.Name,
			RPCMethod: namespace + "." + method.Name,
			Protected: len(extra) > 0,
		}
		rt.mux.Handle(http.MethodPost+" "+route.Path, wrap(http.HandlerFunc(fn), chain))
		added = append(added, route)
	}

	if len(added) == 0 {
		return nil, fmt.Errorf("autorouter: %s handler has no endpoint methods", namespace)
	}

	rt.routes = append(rt.routes, added...)
	return added, nil
}

// Routes returns every registered route sorted by path
func (rt *Router) Routes() []Route {
	routes := append([]Route(nil), rt.routes...)
	sort.Slice(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })
	return routes
}

// IsHandlerFunc reports whether t is func(http.ResponseWriter, *http.Request)
func IsHandlerFunc(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.NumIn() != 2 || t.NumOut() != 0 {
		return false
	}
	return t.In(0) == responseWriterType && t.In(1) == requestType
}

// wrap applies middleware so that the first one runs outermost
func wrap(h http.Handler, middleware []Middleware) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
