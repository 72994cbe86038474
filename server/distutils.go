package server

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/julienschmidt/httprouter"

	"github.com/pindex/pindex/index"
	"github.com/pindex/pindex/util"
)

// DistutilsHandler serves the legacy distutils upload protocol posted to
// the index root. The only mutating action supported is file_upload;
// everything else distutils can send is either answered trivially or
// turned away.
func (s *RESTServer) DistutilsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "cannot parse form")
		return
	}
	action := r.FormValue(":action")
	switch action {
	case "file_upload":
		s.fileUpload(w, r, ps)
	case "submit":
		// metadata-only registration carries no artifact to ingest.
		// Uploading the file registers the package, so accept and
		// do nothing, which is what distutils expects.
		fmt.Fprintln(w, "release registered")
	default:
		log.Printf("distutils: unknown action %q", action)
		w.WriteHeader(http.StatusNotImplemented)
		fmt.Fprintf(w, "action %q is not supported\n", action)
	}
}

// fileUpload ingests an uploaded distribution file. The authenticated
// user becomes the owner; the md5_digest form field, when present, must
// match the uploaded content.
func (s *RESTServer) fileUpload(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	username := ps.ByName("username")
	if username == "" || !s.hasRole(r, RoleWrite) {
		w.WriteHeader(401)
		fmt.Fprintln(w, "Forbidden")
		return
	}

	file, header, err := r.FormFile("content")
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "upload is missing the content file")
		return
	}
	defer file.Close()

	var goal []byte
	if digest := r.FormValue("md5_digest"); digest != "" {
		goal, err = hex.DecodeString(digest)
		if err != nil {
			w.WriteHeader(400)
			fmt.Fprintln(w, "md5_digest is not valid hex")
			return
		}
	}

	// spool the upload to disk, verifying the digest on the way
	dir, err := ioutil.TempDir("", "pindex-upload-")
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, filepath.Base(header.Filename))
	out, err := os.Create(path)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	hw := util.NewMD5Writer(out)
	_, err = io.Copy(hw, file)
	cerr := out.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	if _, ok := hw.CheckMD5(goal); !ok {
		w.WriteHeader(400)
		fmt.Fprintln(w, "md5 digest mismatch")
		return
	}

	result, err := s.Index.Ingest(path, username)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	switch result.Status {
	case index.StatusIngested, index.StatusAlreadyPresent:
		fmt.Fprintf(w, "%s-%s %s\n", result.Name, result.Version, result.Status)
	case index.StatusNoOwner:
		w.WriteHeader(400)
		fmt.Fprintf(w, "no such user %s\n", username)
	case index.StatusNoMetadata:
		w.WriteHeader(400)
		fmt.Fprintln(w, "could not read the package metadata")
	}
}

// hasRole re-decodes the request token and reports whether it grants at
// least the given role. The dispatch route itself is open, so upload
// authorization happens here.
func (s *RESTServer) hasRole(r *http.Request, least Role) bool {
	_, role, err := s.Validator.TokenDecode(r.Header.Get("X-Api-Key"))
	return err == nil && role >= least
}
