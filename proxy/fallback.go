// Package proxy implements the cache-on-miss fallback that sits in front
// of package lookups. When a lookup misses, the fallback tries to fill
// the local index from the upstream, then redirects the client to a
// configured mirror site. Only when there is no mirror does the miss
// surface as a definitive not-found error.
package proxy

import (
	"fmt"
	"log"
	"strings"

	"github.com/pindex/pindex/index"
)

// A Fetcher downloads the artifact for a label ("name" or
// "name==version") and returns its path plus a cleanup function removing
// the file. Any error means the upstream could not supply the label.
type Fetcher interface {
	Fetch(label string) (path string, cleanup func(), err error)
}

// An Ingester adds a downloaded artifact to the local index on behalf of
// the given owner identity.
type Ingester interface {
	Ingest(path, ownerID string) (index.IngestResult, error)
}

// A MirrorRegistry supplies the mirror sites to redirect to and records
// each redirect in the mirror's action log.
type MirrorRegistry interface {
	EnabledMirrors() ([]index.Mirror, error)
	AppendMirrorLog(id int64, action string) error
}

// NotRegisteredError is the terminal miss: the package is not local, the
// upstream could not supply it, and there is no mirror to redirect to.
type NotRegisteredError struct {
	Name string
}

func (e NotRegisteredError) Error() string {
	return fmt.Sprintf("package %s is not registered", e.Name)
}

// MirrorOwner is the identity packages filled from the upstream are
// ingested under. A user with this username must exist for cache fills
// to commit.
const MirrorOwner = "pypi"

// A LookupFunc is the operation the fallback wraps. It returns
// index.ErrNotFound on a miss; any payload and any other error pass
// through the fallback untouched.
type LookupFunc func(name, version string) (interface{}, error)

// Fallback wraps package lookups with the fill-then-redirect behavior.
// Two configurations are in use: the simple index pages run with
// CacheFill on, the detail pages run with it off (mirror redirect only).
type Fallback struct {
	Fetcher  Fetcher
	Ingester Ingester
	Mirrors  MirrorRegistry

	// Folder is the path segment between the mirror base URL and the
	// package name in redirect URLs, e.g. "simple" or "pypi".
	Folder string

	// CacheFill enables the upstream fetch and ingest on a miss. With it
	// off a miss goes straight to the mirror redirect.
	CacheFill bool

	// OwnerID overrides the identity fills are ingested under. Empty
	// means MirrorOwner.
	OwnerID string

	filling singleflight
}

// Outcome is what a lookup through the fallback produced: either the
// payload of a direct hit or the URL of a mirror redirect.
type Outcome struct {
	Payload  interface{}
	Redirect string
}

// fallback state machine states
type state int

const (
	stateDirect state = iota
	stateFilling
	stateMirror
)

// Do runs lookup(name, version) behind the fallback. On a direct hit the
// payload is returned. On a miss the upstream fill is attempted (when
// enabled), and then the client is redirected to the first enabled
// mirror. Note a successful fill still ends in the mirror redirect; the
// freshly cached package is served on the client's next request.
//
// Errors other than index.ErrNotFound from the lookup are returned
// unchanged. The terminal miss is a NotRegisteredError.
func (f *Fallback) Do(lookup LookupFunc, name, version string) (Outcome, error) {
	st := stateDirect
	for {
		switch st {
		case stateDirect:
			payload, err := lookup(name, version)
			if err == nil {
				return Outcome{Payload: payload}, nil
			}
			if err != index.ErrNotFound {
				return Outcome{}, err
			}
			if f.CacheFill {
				st = stateFilling
			} else {
				st = stateMirror
			}
		case stateFilling:
			f.fill(name, version)
			st = stateMirror
		case stateMirror:
			return f.mirror(name)
		}
	}
}

// fill downloads the labelled package from the upstream and ingests it.
// Concurrent fills of the same label are collapsed into one. Every
// failure is logged and swallowed; fill never blocks the request from
// reaching the mirror redirect.
func (f *Fallback) fill(name, version string) {
	label := name
	if version != "" {
		label = name + "==" + version
	}
	f.filling.Do(label, func() {
		path, cleanup, err := f.Fetcher.Fetch(label)
		if err != nil {
			log.Printf("proxy: fetch %s: %s", label, err)
			return
		}
		defer cleanup()
		owner := f.OwnerID
		if owner == "" {
			owner = MirrorOwner
		}
		result, err := f.Ingester.Ingest(path, owner)
		if err != nil {
			log.Printf("proxy: ingest %s: %s", label, err)
			return
		}
		log.Printf("proxy: fill %s: %s", label, result.Status)
	})
}

// mirror redirects to the first enabled mirror site, logging the action
// on that mirror. With no enabled mirror the miss is terminal.
func (f *Fallback) mirror(name string) (Outcome, error) {
	mirrors, err := f.Mirrors.EnabledMirrors()
	if err != nil {
		return Outcome{}, err
	}
	if len(mirrors) == 0 {
		return Outcome{}, NotRegisteredError{Name: name}
	}
	m := mirrors[0]
	target := strings.TrimSuffix(m.URL, "/") + "/" + f.Folder + "/" + name
	if err := f.Mirrors.AppendMirrorLog(m.ID, "Redirect to "+target); err != nil {
		log.Printf("proxy: mirror log %s: %s", m.URL, err)
	}
	return Outcome{Redirect: target}, nil
}
