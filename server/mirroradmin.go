package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

// Mirror site administration. Mirrors are long-lived, administrator
// managed records; the proxy layer only ever reads them.

// ListMirrorsHandler handles GET /admin/mirrors.
func (s *RESTServer) ListMirrorsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	mirrors, err := s.db.AllMirrors()
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(mirrors)
}

// AddMirrorHandler handles POST /admin/mirrors. The form field "url" gives
// the mirror base URL; new mirrors start enabled.
func (s *RESTServer) AddMirrorHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	url := r.FormValue("url")
	if url == "" {
		w.WriteHeader(400)
		fmt.Fprintln(w, "missing url")
		return
	}
	id, err := s.db.AddMirror(url, true)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	log.Printf("mirror %d added for %s", id, url)
	w.Header().Set("Location", fmt.Sprintf("/admin/mirrors/%d/log", id))
	w.WriteHeader(201)
	fmt.Fprintln(w, id)
}

// SetMirrorHandler handles requests to PUT /admin/mirrors/:id/:status
func (s *RESTServer) SetMirrorHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "bad mirror id")
		return
	}
	status := ps.ByName("status")

	switch status {
	case "on":
		w.WriteHeader(201)
		s.setMirror(id, true)
	case "off":
		w.WriteHeader(201)
		s.setMirror(id, false)
	default:
		w.WriteHeader(503)
		log.Println("PUT /admin/mirrors: unknown parameter ", status)
	}
}

func (s *RESTServer) setMirror(id int64, enabled bool) {
	if err := s.db.SetMirrorEnabled(id, enabled); err != nil {
		log.Printf("mirror %d: %s", id, err)
	}
}

// MirrorLogHandler handles GET /admin/mirrors/:id/log with the mirror's
// redirect audit log, oldest entry first.
func (s *RESTServer) MirrorLogHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "bad mirror id")
		return
	}
	logs, err := s.db.MirrorLogs(id)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(logs)
}
