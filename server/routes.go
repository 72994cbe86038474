package server

import (
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"path/filepath"
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/pindex/pindex/index"
	"github.com/pindex/pindex/proxy"
	"github.com/pindex/pindex/store"
	"github.com/pindex/pindex/upstream"
)

// Version is the server version reported by the welcome banner.
const Version = "1.1.0"

// RESTServer holds the configuration for a pindex server.
//
// Set the public fields and then call Run. Run will listen on the given
// port and handle requests. Do not change any fields after calling Run.
//
// It should be enough to set Files and Upstream; the other fields allow
// more customization.
type RESTServer struct {
	// Port number to listen on. Defaults to 14000.
	PortNumber string
	PProfPort  string

	// Files is the content store distribution files are kept in. Run
	// will panic if Files is nil.
	Files store.Store

	// DataDir is where the embedded database keeps its file. If empty
	// and MySQL is unset, the database lives entirely in memory (useful
	// for testing).
	DataDir string

	// Pass in a dial command to use a MySQL server as the database.
	// Otherwise a lightweight internal database is used, placed inside
	// the DataDir directory.
	// e.g. "user:password@tcp(localhost:5555)/dbname" or just "/dbname"
	// if everything else can be the default. Can also use domain sockets:
	// "user@unix(/path/to/socket)/dbname"
	MySQL string

	// Upstream is the base URL of the public index consulted on a local
	// miss, e.g. "https://pypi.org". Empty disables cache filling; a miss
	// then goes straight to the mirror redirect.
	Upstream string

	// FetchTimeout bounds one upstream fetch. Zero means the upstream
	// package's default.
	FetchTimeout time.Duration

	// MaxFetches bounds how many upstream fetches run at once.
	MaxFetches int

	// Overwrite lets a re-upload of an existing (package, version)
	// replace the stored release.
	Overwrite bool

	// Validator does authentication by decoding the user tokens
	// presented to the API. If nil, every request is treated as the
	// admin user "nobody".
	Validator TokenDecoder

	// Index is the package store. Usually left nil; Run builds it from
	// Files and the database.
	Index *index.Store

	db      mirroredDB
	fetcher *upstream.Client
	simple  *proxy.Fallback // cache-filling, folder "simple"
	pypi    *proxy.Fallback // mirror-only, folder "pypi"
	server  httpdown.Server // used to close our listening socket
}

// mirroredDB is what the server needs from a database backend.
type mirroredDB interface {
	index.DB
	index.MirrorDB
}

// Run initializes the database and proxy layers and then blocks listening
// for and handling http requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting Pindex Server version %s", Version)
	log.Printf("DataDir = %s", s.DataDir)

	if err := s.initialize(); err != nil {
		panic(err)
	}

	// for pprof
	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	log.Println("Listening on", s.PortNumber)

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// initialize builds the database, index store, fetcher, and fallbacks
// from the configuration fields.
func (s *RESTServer) initialize() error {
	if s.Files == nil {
		panic("No content storage given. Files is nil.")
	}
	if s.Validator == nil {
		log.Println("No Validator given")
		s.Validator = NewNobodyDecoder()
	}
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}

	var err error
	if s.MySQL != "" {
		log.Printf("Using MySQL")
		s.db, err = NewMysqlDB(s.MySQL)
	} else {
		var path string
		if s.DataDir != "" {
			path = filepath.Join(s.DataDir, "pindex.ql")
		} else {
			path = "memory"
		}
		log.Printf("Using internal database at %s", path)
		s.db, err = NewQlDB(path)
	}
	if err != nil {
		return err
	}
	if err = ensureMirrorUser(s.db); err != nil {
		return err
	}

	if s.Index == nil {
		s.Index = index.New(s.db, s.Files)
	}
	s.Index.Overwrite = s.Overwrite

	if s.Upstream != "" {
		log.Printf("Upstream index is %s", s.Upstream)
		s.fetcher = upstream.NewClient(s.Upstream, s.FetchTimeout, s.MaxFetches)
	}
	s.simple = &proxy.Fallback{
		Fetcher:   s.fetcher,
		Ingester:  s.Index,
		Mirrors:   s.db,
		Folder:    "simple",
		CacheFill: s.fetcher != nil,
	}
	s.pypi = &proxy.Fallback{
		Mirrors:   s.db,
		Folder:    "pypi",
		CacheFill: false,
	}
	return nil
}

// Stop will stop the server and return when all the server goroutines have
// exited and the socket closed.
func (s *RESTServer) Stop() error {
	if s.fetcher != nil {
		s.fetcher.Stop()
	}
	return s.server.Stop()
}

// ensureMirrorUser creates the sentinel identity cache fills are ingested
// under, if it is missing.
func ensureMirrorUser(db index.DB) error {
	if db.FindUserByUsername(proxy.MirrorOwner) != nil {
		return nil
	}
	log.Printf("Creating the %s user", proxy.MirrorOwner)
	return db.SaveUser(&index.User{
		Username: proxy.MirrorOwner,
		Email:    proxy.MirrorOwner + "@localhost",
	})
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		// the index root: distutils and XML-RPC clients POST here,
		// everyone else is sent to the simple listing
		{"GET", "/", RoleUnknown, IndexHandler},
		{"POST", "/", RoleUnknown, s.DispatchHandler},

		// the simple index installers walk
		{"GET", "/simple/", RoleUnknown, s.SimpleIndexHandler},
		{"GET", "/simple/:package", RoleUnknown, s.SimpleDetailHandler},
		{"GET", "/simple/:package/:version", RoleUnknown, s.SimpleDetailHandler},

		// package metadata and artifact downloads
		{"GET", "/pypi/:package", RoleUnknown, s.PackageDetailHandler},
		{"GET", "/packages/:filename", RoleUnknown, s.DownloadHandler},

		// mirror administration
		{"GET", "/admin/mirrors", RoleRead, s.ListMirrorsHandler},
		{"POST", "/admin/mirrors", RoleAdmin, s.AddMirrorHandler},
		{"PUT", "/admin/mirrors/:id/:status", RoleAdmin, s.SetMirrorHandler},
		{"GET", "/admin/mirrors/:id/log", RoleRead, s.MirrorLogHandler},

		// other
		{"GET", "/version", RoleUnknown, WelcomeHandler},
		{"GET", "/debug/vars", RoleUnknown, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// General route handlers and convinence functions

// VarHandler adapts the expvar default handler to the httprouter three parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// WelcomeHandler returns the version banner.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "Pindex (%s)\n", Version)
}

// NotImplementedHandler will return a 501 not implemented error.
func NotImplementedHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.WriteHeader(http.StatusNotImplemented)
	fmt.Fprintf(w, "Not Implemented\n")
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The user name is added as a parameter
// "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get("X-Api-Key")
		user, role, err := s.Validator.TokenDecode(token)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintln(w, err.Error())
			return
		}

		// is role valid?
		if role < leastRole {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}

		// remove any previous username
		for i := range ps {
			if ps[i].Key == "username" {
				ps[i].Value = user
				goto out
			}
		}
		// add a new username if none found
		ps = append(ps, httprouter.Param{Key: "username", Value: user})
	out:
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}
