package server

import (
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
)

// Middleware wraps a handler. Middlewares run in the order they were added.
type Middleware func(next fasthttp.RequestHandler) fasthttp.RequestHandler

type compiledRoute struct {
	method     string
	pattern    string
	handler    fasthttp.RequestHandler
	paramNames []string
	segments   []string
}

// Router resolves static paths through a map and falls back to a linear
// scan over parameterised patterns such as /entries/{key}.
type Router struct {
	mu            sync.RWMutex
	staticRoutes  map[string]fasthttp.RequestHandler
	dynamicRoutes []*compiledRoute
	middlewares   []Middleware
}

func NewRouter() *Router {
	return &Router{
		staticRoutes: make(map[string]fasthttp.RequestHandler),
	}
}

func (r *Router) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.middlewares = append(r.middlewares, middlewares...)
}

func (r *Router) GET(path string, handler fasthttp.RequestHandler) {
	r.Add(fasthttp.MethodGet, path, handler)
}

func (r *Router) POST(path string, handler fasthttp.RequestHandler) {
	r.Add(fasthttp.MethodPost, path, handler)
}

func (r *Router) Add(method, path string, handler fasthttp.RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path = normalizePath(path)

	if !strings.Contains(path, "{") {
		r.staticRoutes[routeKey(method, path)] = handler
		return
	}

	r.dynamicRoutes = append(r.dynamicRoutes, &compiledRoute{
		method:     method,
		pattern:    path,
		handler:    handler,
		paramNames: extractParamNames(path),
		segments:   parsePathSegments(path),
	})
}

// Handler returns the routing handler wrapped in the registered middlewares.
func (r *Router) Handler() fasthttp.RequestHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handler fasthttp.RequestHandler = r.route
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}
	return handler
}

func (r *Router) route(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := normalizePath(string(ctx.Path()))

	r.mu.RLock()
	handler, found := r.staticRoutes[routeKey(method, path)]
	r.mu.RUnlock()

	if found {
		handler(ctx)
		return
	}

	if handler, params := r.findDynamicRoute(method, path); handler != nil {
		for name, value := range params {
			ctx.SetUserValue(name, value)
		}
		handler(ctx)
		return
	}

	ctx.Error("Not found", fasthttp.StatusNotFound)
}

func (r *Router) findDynamicRoute(method, path string) (fasthttp.RequestHandler, map[string]string) {
	pathSegments := parsePathSegments(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.dynamicRoutes {
		if route.method != method {
			continue
		}
		if params := matchRoute(pathSegments, route); params != nil {
			return route.handler, params
		}
	}

	return nil, nil
}

func routeKey(method, path string) string {
	return method + ":" + path
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func parsePathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{}
	}

	return strings.Split(path, "/")
}

func extractParamNames(pattern string) []string {
	var params []string

	for _, seg := range parsePathSegments(pattern) {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params = append(params, seg[1:len(seg)-1])
		}
	}

	return params
}

func matchRoute(pathSegments []string, route *compiledRoute) map[string]string {
	if len(pathSegments) != len(route.segments) {
		return nil
	}

	params := make(map[string]string, len(route.paramNames))
	paramIdx := 0

	for i, routeSegment := range route.segments {
		if strings.HasPrefix(routeSegment, "{") {
			if pathSegments[i] == "" {
				return nil
			}
			params[route.paramNames[paramIdx]] = pathSegments[i]
			paramIdx++
		} else if routeSegment != pathSegments[i] {
			return nil
		}
	}

	return params
}
