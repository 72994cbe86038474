package index

import (
	"time"
)

// A Package is a named unit of distributable software. It is created on
// first successful ingestion and never deleted automatically. The package
// record is the aggregate stored in the database: its releases and their
// distributions are embedded in it.
type Package struct {
	Name        string
	Created     time.Time
	Modified    time.Time
	Owners      []string   // usernames
	Maintainers []string   // usernames
	Releases    []*Release // ordered by ingestion time
}

// A Release is one version of a package.
type Release struct {
	Version         string
	MetadataVersion string
	// Fields holds the free form metadata headers of the release. Values
	// may be multi-valued; insertion order is not significant.
	Fields        map[string][]string
	Classifiers   []string
	Created       time.Time
	Distributions []*Distribution
}

// A Distribution is one uploaded artifact file belonging to a release.
// The artifact content itself is kept in a store.Store under Filename.
type Distribution struct {
	Filename string
	Kind     DistKind
	Uploader string // username
	Size     int64
	MD5      string // hex
	SHA256   string // hex
	Created  time.Time
}

// A User is an identity known to the index. The literal username "pypi"
// is reserved for the upstream-mirror ingestion identity.
type User struct {
	Username string
	Email    string
}

// A Mirror is an administrator managed upstream site the index redirects
// to when a package cannot be served locally. Mirrors carry an append-only
// action log for auditing the redirects.
type Mirror struct {
	ID      int64
	URL     string
	Enabled bool
}

// A MirrorLog is one entry in a mirror's action log.
type MirrorLog struct {
	ID       int64
	MirrorID int64
	Action   string
	Created  time.Time
}

// Release returns the release with the given version, or nil.
func (p *Package) Release(version string) *Release {
	for _, r := range p.Releases {
		if r.Version == version {
			return r
		}
	}
	return nil
}

// Distribution returns the distribution with the given file name, looking
// across all releases of the package. Returns nil if there is none.
func (p *Package) Distribution(filename string) *Distribution {
	for _, r := range p.Releases {
		for _, d := range r.Distributions {
			if d.Filename == filename {
				return d
			}
		}
	}
	return nil
}

// A DB stores the package aggregates and the supporting user, classifier,
// and mirror records. Implementations are expected to be safe for use from
// multiple goroutines.
type DB interface {
	// LookupPackage returns the package with exactly the given name, or
	// nil if there is none. The exact name is the canonical key.
	LookupPackage(name string) *Package

	// SearchPackage is the lookup used to serve client requests: it
	// tries the exact name, then a case-insensitive match, then a
	// case-insensitive match with underscores replaced by hyphens.
	// Returns nil if nothing matches.
	SearchPackage(name string) *Package

	// SavePackage creates or updates the package aggregate.
	SavePackage(p *Package) error

	// ListPackages returns the canonical names of every package, sorted.
	ListPackages() ([]string, error)

	// EnsureClassifier records the classifier name if it is not already
	// known. Classifiers are global and shared across releases.
	EnsureClassifier(name string) error

	// Classifiers returns every known classifier name, sorted.
	Classifiers() ([]string, error)

	UserFinder

	// SaveUser creates or updates a user record.
	SaveUser(u *User) error
}

// A UserFinder resolves identities for the owner resolution algorithm.
type UserFinder interface {
	// FindUserByEmail returns the user with the given email, or nil.
	FindUserByEmail(email string) *User
	// FindUserByUsername returns the user with the given username, or nil.
	FindUserByUsername(username string) *User
}

// A MirrorDB manages the mirror site registry. The core only reads it;
// mutation happens through the admin interface.
type MirrorDB interface {
	// EnabledMirrors returns the enabled mirrors in their stored order.
	EnabledMirrors() ([]Mirror, error)
	// AllMirrors returns every mirror in stored order.
	AllMirrors() ([]Mirror, error)
	// AddMirror registers a new mirror site and returns its id.
	AddMirror(url string, enabled bool) (int64, error)
	// SetMirrorEnabled flips the enabled flag of a mirror.
	SetMirrorEnabled(id int64, enabled bool) error
	// AppendMirrorLog adds an entry to the mirror's action log.
	AppendMirrorLog(id int64, action string) error
	// MirrorLogs returns the action log of a mirror, oldest first.
	MirrorLogs(id int64) ([]MirrorLog, error)
}
