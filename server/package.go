package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/pindex/pindex/index"
	"github.com/pindex/pindex/store"
)

// PackageDetailHandler handles GET /pypi/:package with the full package
// record as JSON. There is no cache fill on this path; a miss redirects
// to a mirror or 404s.
func (s *RESTServer) PackageDetailHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("package")

	out, err := s.pypi.Do(s.findPackage, name, "")
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if out.Redirect != "" {
		http.Redirect(w, r, out.Redirect, http.StatusFound)
		return
	}
	pkg := out.Payload.(*index.Package)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(pkg)
}

// DownloadHandler handles GET /packages/:filename, streaming a stored
// distribution file.
func (s *RESTServer) DownloadHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	filename := ps.ByName("filename")

	_, dist, err := s.Index.FindDistribution(filename)
	if err == index.ErrNotFound {
		w.WriteHeader(404)
		fmt.Fprintf(w, "no distribution file %s\n", filename)
		return
	}
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	content, size, err := s.Index.OpenDistribution(filename)
	if err == store.ErrNotExist {
		w.WriteHeader(404)
		fmt.Fprintf(w, "no distribution file %s\n", filename)
		return
	}
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	defer content.Close()
	w.Header().Set("ETag", `"`+dist.MD5+`"`)
	http.ServeContent(w, r, filename, dist.Created, io.NewSectionReader(content, 0, size))
}
