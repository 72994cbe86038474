package index

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/pindex/pindex/store"
)

func TestIngestIdempotent(t *testing.T) {
	s, dir := newTestStore(t)
	defer os.RemoveAll(dir)
	artifact := writeSdist(t, dir, "spam", "1.0", "author@example.com")

	result, err := s.Ingest(artifact, "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusIngested {
		t.Fatalf("Received %s, expected %s", result.Status, StatusIngested)
	}
	if result.Name != "spam" || result.Version != "1.0" {
		t.Errorf("Received %s-%s", result.Name, result.Version)
	}

	// a second ingest of the same version is a no-op
	result, err = s.Ingest(artifact, "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusAlreadyPresent {
		t.Fatalf("Received %s, expected %s", result.Status, StatusAlreadyPresent)
	}
	pkg := s.DB.LookupPackage("spam")
	if pkg == nil {
		t.Fatal("package missing")
	}
	if len(pkg.Releases) != 1 {
		t.Errorf("Received %d releases, expected 1", len(pkg.Releases))
	}
}

func TestIngestRecords(t *testing.T) {
	s, dir := newTestStore(t)
	defer os.RemoveAll(dir)
	artifact := writeSdist(t, dir, "eggs", "2.0", "author@example.com")

	if _, err := s.Ingest(artifact, ""); err != nil {
		t.Fatal(err)
	}
	pkg := s.DB.LookupPackage("eggs")
	if pkg == nil {
		t.Fatal("package missing")
	}
	if len(pkg.Owners) != 1 || pkg.Owners[0] != "author" {
		t.Errorf("Received owners %v", pkg.Owners)
	}
	if len(pkg.Maintainers) != 1 || pkg.Maintainers[0] != "author" {
		t.Errorf("Received maintainers %v", pkg.Maintainers)
	}
	rel := pkg.Release("2.0")
	if rel == nil {
		t.Fatal("release missing")
	}
	if rel.MetadataVersion != "1.1" {
		t.Errorf("Received metadata version %s", rel.MetadataVersion)
	}
	if len(rel.Classifiers) != 1 {
		t.Fatalf("Received classifiers %v", rel.Classifiers)
	}
	// classifiers were get-or-created globally
	cls, _ := s.DB.Classifiers()
	if len(cls) != 1 || cls[0] != "Programming Language :: Python" {
		t.Errorf("Received global classifiers %v", cls)
	}
	if len(rel.Distributions) != 1 {
		t.Fatal("distribution missing")
	}
	d := rel.Distributions[0]
	if d.Kind != KindSdist {
		t.Errorf("Received kind %s, expected %s", d.Kind, KindSdist)
	}
	if d.Uploader != "author" {
		t.Errorf("Received uploader %s", d.Uploader)
	}
	if d.MD5 == "" || d.SHA256 == "" || d.Size == 0 {
		t.Errorf("Received digests %q %q size %d", d.MD5, d.SHA256, d.Size)
	}
	// the content is retrievable under the artifact file name
	r, _, err := s.OpenDistribution(d.Filename)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()
}

func TestIngestOwnerPrecedence(t *testing.T) {
	s, dir := newTestStore(t)
	defer os.RemoveAll(dir)
	db := s.DB.(*memDB)
	db.addUser("carol", "c@d.com")
	// metadata author email is author@example.com, which also resolves
	artifact := writeSdist(t, dir, "spam", "1.0", "author@example.com")

	// an explicit owner id that does not resolve must NOT fall back to
	// the metadata author email
	result, err := s.Ingest(artifact, "a@b.com")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusNoOwner {
		t.Fatalf("Received %s, expected %s", result.Status, StatusNoOwner)
	}
	if s.DB.LookupPackage("spam") != nil {
		t.Error("package created despite missing owner")
	}

	// an explicit owner id that resolves wins over the author email
	result, err = s.Ingest(artifact, "c@d.com")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusIngested {
		t.Fatalf("Received %s, expected %s", result.Status, StatusIngested)
	}
	pkg := s.DB.LookupPackage("spam")
	if pkg == nil || len(pkg.Owners) != 1 || pkg.Owners[0] != "carol" {
		t.Errorf("Received owners %v, expected [carol]", pkg.Owners)
	}
}

func TestIngestOwnerByUsername(t *testing.T) {
	s, dir := newTestStore(t)
	defer os.RemoveAll(dir)
	db := s.DB.(*memDB)
	db.addUser("pypi", "mirror@localhost")
	artifact := writeSdist(t, dir, "spam", "1.0", "nobody@nowhere.example")

	// an owner id without "@" is a username lookup
	result, err := s.Ingest(artifact, "pypi")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusIngested {
		t.Fatalf("Received %s, expected %s", result.Status, StatusIngested)
	}
}

func TestIngestNoMetadata(t *testing.T) {
	s, dir := newTestStore(t)
	defer os.RemoveAll(dir)
	bad := filepath.Join(dir, "junk-1.0.tar.gz")
	ioutil.WriteFile(bad, []byte("not a tarball"), 0666)

	result, err := s.Ingest(bad, "")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusNoMetadata {
		t.Fatalf("Received %s, expected %s", result.Status, StatusNoMetadata)
	}
}

func TestIngestConcurrentSameVersion(t *testing.T) {
	s, dir := newTestStore(t)
	defer os.RemoveAll(dir)
	artifact := writeSdist(t, dir, "race", "1.0", "author@example.com")

	const n = 8
	results := make([]IngestStatus, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.Ingest(artifact, "")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = r.Status
		}(i)
	}
	wg.Wait()

	var ingested, present int
	for _, st := range results {
		switch st {
		case StatusIngested:
			ingested++
		case StatusAlreadyPresent:
			present++
		}
	}
	if ingested != 1 {
		t.Errorf("Received %d ingests, expected exactly 1", ingested)
	}
	if present != n-1 {
		t.Errorf("Received %d already-present, expected %d", present, n-1)
	}
	pkg := s.DB.LookupPackage("race")
	if pkg == nil || len(pkg.Releases) != 1 {
		t.Fatalf("Received %d releases, expected 1", len(pkg.Releases))
	}
}

func TestFindNormalization(t *testing.T) {
	s, dir := newTestStore(t)
	defer os.RemoveAll(dir)
	artifact := writeSdist(t, dir, "Spam-Ham", "1.0", "author@example.com")
	if _, err := s.Ingest(artifact, ""); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"Spam-Ham", "spam-ham", "SPAM_HAM", "spam_ham"} {
		pkg, err := s.Find(name, "")
		if err != nil {
			t.Errorf("Find(%s): %v", name, err)
			continue
		}
		if pkg.Name != "Spam-Ham" {
			t.Errorf("Find(%s): Received %s", name, pkg.Name)
		}
	}
	if _, err := s.Find("spam-ham", "9.9"); err != ErrNotFound {
		t.Errorf("Received %v, expected ErrNotFound for unknown version", err)
	}
	if _, err := s.Find("other", ""); err != ErrNotFound {
		t.Errorf("Received %v, expected ErrNotFound", err)
	}
}

// --- test support ---

func newTestStore(t *testing.T) (*Store, string) {
	dir, err := ioutil.TempDir("", "pindex-index-")
	if err != nil {
		t.Fatal(err)
	}
	db := newMemDB()
	db.addUser("author", "author@example.com")
	return New(db, store.NewMemory()), dir
}

func writeSdist(t *testing.T, dir, name, version, email string) string {
	pkginfo := "Metadata-Version: 1.1\nName: " + name + "\nVersion: " + version +
		"\nAuthor-email: " + email + "\nClassifier: Programming Language :: Python\n"
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{
		Name: name + "-" + version + "/PKG-INFO",
		Mode: 0644,
		Size: int64(len(pkginfo)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	tw.Write([]byte(pkginfo))
	tw.Close()
	gz.Close()
	fpath := filepath.Join(dir, name+"-"+version+".tar.gz")
	if err := ioutil.WriteFile(fpath, buf.Bytes(), 0666); err != nil {
		t.Fatal(err)
	}
	return fpath
}

// memDB is an in-memory DB for testing the store logic.
type memDB struct {
	m           sync.Mutex
	packages    map[string]*Package
	users       []*User
	classifiers map[string]bool
}

func newMemDB() *memDB {
	return &memDB{
		packages:    make(map[string]*Package),
		classifiers: make(map[string]bool),
	}
}

func (db *memDB) addUser(username, email string) {
	db.users = append(db.users, &User{Username: username, Email: email})
}

func (db *memDB) LookupPackage(name string) *Package {
	db.m.Lock()
	defer db.m.Unlock()
	return db.packages[name]
}

func (db *memDB) SearchPackage(name string) *Package {
	db.m.Lock()
	defer db.m.Unlock()
	if p := db.packages[name]; p != nil {
		return p
	}
	for n, p := range db.packages {
		if strings.EqualFold(n, name) {
			return p
		}
	}
	norm := strings.ReplaceAll(name, "_", "-")
	for n, p := range db.packages {
		if strings.EqualFold(n, norm) {
			return p
		}
	}
	return nil
}

func (db *memDB) SavePackage(p *Package) error {
	db.m.Lock()
	db.packages[p.Name] = p
	db.m.Unlock()
	return nil
}

func (db *memDB) ListPackages() ([]string, error) {
	db.m.Lock()
	defer db.m.Unlock()
	var names []string
	for n := range db.packages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (db *memDB) EnsureClassifier(name string) error {
	db.m.Lock()
	db.classifiers[name] = true
	db.m.Unlock()
	return nil
}

func (db *memDB) Classifiers() ([]string, error) {
	db.m.Lock()
	defer db.m.Unlock()
	var names []string
	for n := range db.classifiers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (db *memDB) FindUserByEmail(email string) *User {
	for _, u := range db.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (db *memDB) FindUserByUsername(username string) *User {
	for _, u := range db.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func (db *memDB) SaveUser(u *User) error {
	db.m.Lock()
	db.users = append(db.users, u)
	db.m.Unlock()
	return nil
}
