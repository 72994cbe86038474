package server

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// The index root. distutils and XML-RPC clients address everything to
// "/", so the method and content shape decide where a request goes.

// IndexHandler handles GET /. Browsers and crawlers end up here; send
// them to the package listing.
func IndexHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	http.Redirect(w, r, "/simple/", http.StatusFound)
}

// DispatchHandler handles POST /. XML-RPC requests are detected first,
// then distutils tool requests. Anything else is sent to the package
// listing like a GET.
func (s *RESTServer) DispatchHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if isXMLRPCRequest(r) {
		s.XMLRPCHandler(w, r, ps)
		return
	}
	if isDistutilsRequest(r) {
		s.DistutilsHandler(w, r, ps)
		return
	}
	http.Redirect(w, r, "/simple/", http.StatusFound)
}

// isXMLRPCRequest reports whether the request is an XML-RPC method call,
// judged by its content type.
func isXMLRPCRequest(r *http.Request) bool {
	ctype := r.Header.Get("Content-Type")
	return strings.HasPrefix(ctype, "text/xml") ||
		strings.HasPrefix(ctype, "application/xml")
}

// isDistutilsRequest reports whether the request came from a distutils
// style upload tool. Those post multipart forms carrying an ":action"
// field, and most identify themselves in the user agent.
func isDistutilsRequest(r *http.Request) bool {
	agent := r.Header.Get("User-Agent")
	for _, tool := range []string{"distutils", "setuptools", "twine", "pip"} {
		if strings.Contains(strings.ToLower(agent), tool) {
			return true
		}
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return false
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return false
	}
	return r.FormValue(":action") != ""
}
