package server

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/pindex/pindex/index"
	"github.com/pindex/pindex/proxy"
)

// The simple index: the plain page-of-links protocol installers walk to
// find distribution files. Misses here go through the cache-filling
// fallback, so the first request for an unregistered package triggers the
// upstream fetch.

// SimpleIndexHandler handles GET /simple/ with the list of every package.
func (s *RESTServer) SimpleIndexHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	names, err := s.Index.DB.ListPackages()
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintln(w, "<html><head><title>Simple Index</title></head><body>")
	for _, name := range names {
		fmt.Fprintf(w, "<a href=%q>%s</a><br/>\n", "/simple/"+name+"/", name)
	}
	fmt.Fprintln(w, "</body></html>")
}

// SimpleDetailHandler handles GET /simple/:package and
// GET /simple/:package/:version, listing the package's distribution files.
func (s *RESTServer) SimpleDetailHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("package")
	version := ps.ByName("version")

	out, err := s.simple.Do(s.findPackage, name, version)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if out.Redirect != "" {
		http.Redirect(w, r, out.Redirect, http.StatusFound)
		return
	}
	pkg := out.Payload.(*index.Package)
	if pkg.Name != name {
		// found under a different canonical name; send the client there
		http.Redirect(w, r, "/simple/"+pkg.Name+"/", http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><head><title>Links for %s</title></head><body>\n", pkg.Name)
	for _, rel := range pkg.Releases {
		if version != "" && rel.Version != version {
			continue
		}
		for _, d := range rel.Distributions {
			fmt.Fprintf(w, "<a href=%q>%s</a><br/>\n",
				"/packages/"+d.Filename+"#md5="+d.MD5, d.Filename)
		}
	}
	fmt.Fprintln(w, "</body></html>")
}

// findPackage adapts the index lookup to the fallback's contract.
func (s *RESTServer) findPackage(name, version string) (interface{}, error) {
	pkg, err := s.Index.Find(name, version)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// writeLookupError renders the terminal miss as a 404 naming the package;
// anything else is a server error.
func writeLookupError(w http.ResponseWriter, err error) {
	if _, ok := err.(proxy.NotRegisteredError); ok {
		w.WriteHeader(404)
	} else {
		w.WriteHeader(500)
	}
	fmt.Fprintln(w, err.Error())
}
