// Package index holds the package index data model and the Store which
// ingests distribution files into it. The Store owns every Package,
// Release, Distribution, and Classifier record; other components mutate
// them only through it.
package index

import (
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pindex/pindex/meta"
	"github.com/pindex/pindex/store"
	"github.com/pindex/pindex/util"
)

// ErrNotFound indicates a lookup miss. It is recoverable: the proxy layer
// uses it to decide whether to attempt a cache fill.
var ErrNotFound = errors.New("package not found")

// IngestStatus describes the outcome of one ingestion attempt. Only
// StatusIngested mutates the index; the others are soft outcomes the
// caller may log and move past.
type IngestStatus int

const (
	// StatusIngested means the release and its distribution were created.
	StatusIngested IngestStatus = iota
	// StatusAlreadyPresent means the (package, version) pair already has
	// a release. Not an error; nothing was changed.
	StatusAlreadyPresent
	// StatusNoOwner means no identity could be resolved for the upload.
	StatusNoOwner
	// StatusNoMetadata means the artifact could not be introspected.
	StatusNoMetadata
)

func (s IngestStatus) String() string {
	switch s {
	case StatusIngested:
		return "ingested"
	case StatusAlreadyPresent:
		return "already present"
	case StatusNoOwner:
		return "no owner"
	case StatusNoMetadata:
		return "no metadata"
	}
	return "unknown"
}

// IngestResult reports what an Ingest call did.
type IngestResult struct {
	Status  IngestStatus
	Name    string // package name, when known
	Version string // release version, when known
}

// Store is the package store. It combines the metadata database with the
// content store holding the artifact bytes.
//
// Ingestion is serialized per package name, so two simultaneous uploads of
// the same (package, version) cannot both commit a release.
type Store struct {
	DB    DB
	Files store.Store

	// Overwrite allows re-ingesting an existing (package, version) to
	// replace the stored release. It is an external configuration
	// concern and defaults to off.
	Overwrite bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per package name
}

// New creates a Store using the given database and content store.
func New(db DB, files store.Store) *Store {
	return &Store{DB: db, Files: files, locks: make(map[string]*sync.Mutex)}
}

// Ingest adds the artifact at path to the index. ownerID optionally names
// the owning identity: an email if it contains "@", a username otherwise.
// When empty, the author email in the artifact metadata is used instead.
//
// All outcomes other than database or content store failures are reported
// in the IngestResult, not the error. A nil error with status NoMetadata
// or NoOwner means the attempt was abandoned cleanly.
func (s *Store) Ingest(path string, ownerID string) (IngestResult, error) {
	md, err := meta.Extract(path)
	if err != nil {
		log.Printf("ingest: no metadata from %s: %s", path, err)
		return IngestResult{Status: StatusNoMetadata}, nil
	}
	result := IngestResult{Name: md.Name, Version: md.Version}

	unlock := s.lock(md.Name)
	defer unlock()

	// the exact name is the canonical key
	pkg := s.DB.LookupPackage(md.Name)
	isnew := pkg == nil
	if !isnew && pkg.Release(md.Version) != nil {
		if !s.Overwrite {
			result.Status = StatusAlreadyPresent
			return result, nil
		}
		s.removeRelease(pkg, md.Version)
	}

	owner := resolveOwner(s.DB, ownerID, md.AuthorEmail)
	if owner == nil {
		log.Printf("ingest: no owner for %s-%s (owner id %q, author email %q)",
			md.Name, md.Version, ownerID, md.AuthorEmail)
		result.Status = StatusNoOwner
		return result, nil
	}

	if isnew {
		pkg = &Package{Name: md.Name, Created: time.Now()}
	}
	addname(&pkg.Owners, owner.Username)
	addname(&pkg.Maintainers, owner.Username)

	release := &Release{
		Version:         md.Version,
		MetadataVersion: md.MetadataVersion,
		Fields:          md.Fields,
		Created:         time.Now(),
	}
	for _, c := range md.Classifiers {
		if err := s.DB.EnsureClassifier(c); err != nil {
			return result, err
		}
		release.Classifiers = append(release.Classifiers, c)
	}

	dist, err := s.saveContent(path, md.Filename, owner.Username, md.SourceDist)
	if err != nil {
		return result, err
	}
	release.Distributions = append(release.Distributions, dist)
	pkg.Releases = append(pkg.Releases, release)
	pkg.Modified = time.Now()

	if err := s.DB.SavePackage(pkg); err != nil {
		// don't leave orphaned content behind
		s.Files.Delete(dist.Filename)
		return result, err
	}
	log.Printf("ingest: added %s-%s (%s)", md.Name, md.Version, dist.Kind)
	result.Status = StatusIngested
	return result, nil
}

// Find looks up a package for serving. The lookup is case-insensitive
// with an underscore-to-hyphen fallback. When version is not empty the
// package must have a release with that version. Returns ErrNotFound on a
// miss.
func (s *Store) Find(name, version string) (*Package, error) {
	pkg := s.DB.SearchPackage(name)
	if pkg == nil {
		return nil, ErrNotFound
	}
	if version != "" && pkg.Release(version) == nil {
		return nil, ErrNotFound
	}
	return pkg, nil
}

// FindDistribution returns the package and distribution record for a
// stored artifact file name. Returns ErrNotFound on a miss.
func (s *Store) FindDistribution(filename string) (*Package, *Distribution, error) {
	names, err := s.DB.ListPackages()
	if err != nil {
		return nil, nil, err
	}
	for _, n := range names {
		pkg := s.DB.LookupPackage(n)
		if pkg == nil {
			continue
		}
		if d := pkg.Distribution(filename); d != nil {
			return pkg, d, nil
		}
	}
	return nil, nil, ErrNotFound
}

// OpenDistribution returns a reader over a stored artifact's content.
func (s *Store) OpenDistribution(filename string) (store.ReadAtCloser, int64, error) {
	return s.Files.Open(filename)
}

// saveContent copies the artifact into the content store, recording its
// size and digests, and classifies the distribution kind.
func (s *Store) saveContent(path, filename, uploader string, sourceDist bool) (*Distribution, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	w, err := s.Files.Create(filename)
	if err == store.ErrKeyExists {
		// leftover content without a matching release record; replace it
		s.Files.Delete(filename)
		w, err = s.Files.Create(filename)
	}
	if err != nil {
		return nil, err
	}
	hw := util.NewHashWriter(w)
	size, err := io.Copy(hw, src)
	cerr := w.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		s.Files.Delete(filename)
		return nil, err
	}
	md5hex, sha256hex := hw.Sums()
	return &Distribution{
		Filename: filename,
		Kind:     ClassifyKind(sourceDist, filename),
		Uploader: uploader,
		Size:     size,
		MD5:      md5hex,
		SHA256:   sha256hex,
		Created:  time.Now(),
	}, nil
}

// removeRelease drops the release with the given version from the package
// aggregate and deletes its stored content. Used only when Overwrite is
// enabled.
func (s *Store) removeRelease(pkg *Package, version string) {
	var keep []*Release
	for _, r := range pkg.Releases {
		if r.Version != version {
			keep = append(keep, r)
			continue
		}
		for _, d := range r.Distributions {
			s.Files.Delete(d.Filename)
		}
	}
	pkg.Releases = keep
}

// lock acquires the per-package mutex and returns the unlock function.
func (s *Store) lock(name string) func() {
	s.mu.Lock()
	m := s.locks[name]
	if m == nil {
		m = new(sync.Mutex)
		s.locks[name] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// resolveOwner maps an upload to an owning identity.
//
// If ownerID is given it wins: it is looked up by email when it contains
// an "@", by exact username otherwise, and a failed lookup fails the
// resolution outright. Only when ownerID is empty is the metadata author
// email consulted. A nil return is the expected outcome for unregistered
// authors, not an error.
func resolveOwner(users UserFinder, ownerID, authorEmail string) *User {
	if ownerID != "" {
		if strings.Contains(ownerID, "@") {
			return users.FindUserByEmail(ownerID)
		}
		return users.FindUserByUsername(ownerID)
	}
	if authorEmail == "" {
		return nil
	}
	return users.FindUserByEmail(authorEmail)
}

// addname appends name to the list if it is not already present.
func addname(list *[]string, name string) {
	for _, n := range *list {
		if n == name {
			return
		}
	}
	*list = append(*list, name)
}
