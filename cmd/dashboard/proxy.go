package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
)

// backendProxy forwards /api/v1/* unchanged to the lesson backend so a
// browser client can reach it through the dashboard's origin.
func (s *Server) backendProxy() http.Handler {
	target, _ := url.Parse(s.backend.BaseURL()) // validated by backend.New
	proxy := httputil.NewSingleHostReverseProxy(target)

	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.log.Warn("backend proxy failed", "path", r.URL.Path, "error", err)
		jsonErr(w, "backend unavailable", http.StatusBadGateway)
	}
	return proxy
}
