// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package fwabfapi exposes a read-only HTTP introspection surface over a
// running fwabf engine: links, attachments, local addresses, the
// default-route adjacency set, and the recent decision trace. Policies are
// not exposed by any route. Mutating the
// engine (the CLI/admin-API surface spec.md §6 leaves to an external
// collaborator) is out of scope here by design - this package only reads.
package fwabfapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"go.fwabf.dev/fwabf/internal/fwabf"
	"go.fwabf.dev/fwabf/internal/logging"
)

// Server is the read-only HTTP introspection surface for an Engine.
type Server struct {
	engine     *fwabf.Engine
	logger     *logging.Logger
	router     *mux.Router
	httpServer *http.Server
}

// NewServer constructs a Server bound to engine. Call ListenAndServe (or
// use Router in an existing mux) to expose it.
func NewServer(engine *fwabf.Engine, logger *logging.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Router returns the underlying router, for embedding in a larger API
// surface instead of running a standalone server.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1/fwabf").Subrouter()

	api.HandleFunc("/links", s.handleLinks).Methods("GET")
	api.HandleFunc("/links/{label}", s.handleLink).Methods("GET")
	api.HandleFunc("/locals", s.handleLocals).Methods("GET")
	api.HandleFunc("/default_route/{family}", s.handleDefaultRoute).Methods("GET")
	api.HandleFunc("/attachments/{sw_if_index}/{family}", s.handleAttachments).Methods("GET")
	api.HandleFunc("/trace", s.handleTrace).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// ListenAndServe starts a standalone HTTP server for the introspection API.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	if s.logger != nil {
		s.logger.Info("starting fwabf introspection API", "addr", addr)
	}
	return s.httpServer.ListenAndServe()
}

// Close shuts down the standalone HTTP server, if one was started.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Links.ListLinks())
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	label, err := parseLabel(mux.Vars(r)["label"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	link, ok := s.engine.Links.Link(label)
	if !ok {
		http.Error(w, "no such link", http.StatusNotFound)
		return
	}
	writeJSON(w, link)
}

func (s *Server) handleLocals(w http.ResponseWriter, r *http.Request) {
	addrs := s.engine.Locals.List()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	writeJSON(w, out)
}

func (s *Server) handleDefaultRoute(w http.ResponseWriter, r *http.Request) {
	family, err := parseFamily(mux.Vars(r)["family"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.engine.DefaultRoute.Adjacencies(family))
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	swIfIndex, err := strconv.ParseUint(vars["sw_if_index"], 10, 32)
	if err != nil {
		http.Error(w, "invalid sw_if_index", http.StatusBadRequest)
		return
	}
	family, err := parseFamily(vars["family"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.engine.Attachments.List(uint32(swIfIndex), family))
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Counters.RecentTrace())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseLabel(s string) (fwabf.Label, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, err
	}
	return fwabf.Label(v), nil
}

func parseFamily(s string) (fwabf.AddressFamily, error) {
	switch s {
	case "ip4":
		return fwabf.AFInet4, nil
	case "ip6":
		return fwabf.AFInet6, nil
	default:
		return fwabf.AFInvalid, &familyError{s}
	}
}

type familyError struct{ value string }

func (e *familyError) Error() string { return "invalid family: " + e.value }
