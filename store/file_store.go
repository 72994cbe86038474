package store

import (
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
)

// FileSystem keeps distribution files on disk under a root directory. The
// key is the file name of the artifact, e.g. "spam-1.0.tar.gz". Files are
// sharded into subdirectories by the first letters of the key so a busy
// index does not end up with one enormous directory.
type FileSystem struct {
	root string
}

// subdirectory files are staged in while they are being written.
const scratchdir = "incoming"

var _ Store = &FileSystem{}

// NewFileSystem creates a FileSystem store rooted at the given path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// List returns a channel listing every key in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go s.walk(c)
	return c
}

// walk does a two-level scan of the storage tree, emitting file names on
// out. Directories are opened but files are only stat'd.
func (s *FileSystem) walk(out chan<- string) {
	defer close(out)
	dirs, err := ioutil.ReadDir(s.root)
	if err != nil {
		log.Println("filesystem list:", err)
		raven.CaptureError(err, nil)
		return
	}
	for _, d := range dirs {
		if !d.IsDir() || d.Name() == scratchdir {
			continue
		}
		files, err := ioutil.ReadDir(filepath.Join(s.root, d.Name()))
		if err != nil {
			log.Println("filesystem list:", err)
			raven.CaptureError(err, nil)
			continue
		}
		for _, f := range files {
			if !f.IsDir() {
				out <- f.Name()
			}
		}
	}
}

// Open returns a reader for the given key along with the file's size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := validateKey(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(s.root, keySubdir(key), key))
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNotExist
		}
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create returns a writer saving a new file under the given key. The file
// is written into a scratch directory first and moved into place on Close,
// so partial writes are never visible.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	target, err := s.mkpath(keySubdir(key), key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	temp, err := s.mkpath(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// O_EXCL so two writers of the same key cannot interleave
	w, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &moveCloser{WriteCloser: w, source: temp, target: target}, nil
}

// Delete removes the given key. A missing key is not an error.
func (s *FileSystem) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, keySubdir(key), key))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// mkpath ensures the subdirectory exists and returns the full path for key.
func (s *FileSystem) mkpath(subdir, key string) (string, error) {
	dir := filepath.Join(s.root, subdir)
	err := os.MkdirAll(dir, 0775)
	return filepath.Join(dir, key), err
}

// moveCloser moves the scratch file into its final place when closed.
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		return err
	}
	if _, err := os.Stat(w.target); !os.IsNotExist(err) {
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// keySubdir returns the shard directory for a key, e.g. "spam-1.0.tar.gz"
// is kept under "sp/".
func keySubdir(key string) string {
	k := strings.ToLower(key)
	if len(k) < 2 {
		return k
	}
	return k[:2]
}

func validateKey(key string) error {
	if key == "" || !utf8.ValidString(key) {
		return ErrKeyInvalid
	}
	if strings.Contains(key, "/") {
		return ErrKeyInvalid
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrKeyInvalid
		}
	}
	return nil
}
