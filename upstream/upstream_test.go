package upstream

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLabel(t *testing.T) {
	var table = []struct {
		label, name, version string
	}{
		{"spam", "spam", ""},
		{"spam==1.0", "spam", "1.0"},
		{"spam==", "spam", ""},
	}
	for _, tab := range table {
		name, version := ParseLabel(tab.label)
		if name != tab.name || version != tab.version {
			t.Errorf("ParseLabel(%s): Received (%s, %s)", tab.label, name, version)
		}
	}
}

func TestFetch(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pypi/spam/json":
			w.Write([]byte(`{"urls":[
				{"packagetype":"bdist_wheel","url":"` + ts.URL + `/files/spam-1.0.whl","filename":"spam-1.0.whl"},
				{"packagetype":"sdist","url":"` + ts.URL + `/files/spam-1.0.tar.gz","filename":"spam-1.0.tar.gz"}]}`))
		case "/pypi/eggs/2.0/json":
			w.Write([]byte(`{"urls":[
				{"packagetype":"sdist","url":"` + ts.URL + `/files/eggs-2.0.tar.gz","filename":"eggs-2.0.tar.gz"}]}`))
		case "/files/spam-1.0.tar.gz", "/files/eggs-2.0.tar.gz":
			w.Write([]byte("tarball bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()
	c := NewClient(ts.URL, 0, 2)
	defer c.Stop()

	// unversioned label, sdist preferred over the wheel
	path, cleanup, err := c.Fetch("spam")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "spam-1.0.tar.gz" {
		t.Errorf("Received %s", path)
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "tarball bytes" {
		t.Errorf("Received %q", data)
	}
	dir := filepath.Dir(path)
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temp dir %s survived cleanup", dir)
	}

	// versioned label hits the release endpoint
	path, cleanup, err = c.Fetch("eggs==2.0")
	if err != nil {
		t.Fatal(err)
	}
	cleanup()
	if filepath.Base(path) != "eggs-2.0.tar.gz" {
		t.Errorf("Received %s", path)
	}
}

func TestFetchNotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	c := NewClient(ts.URL, 0, 1)
	defer c.Stop()

	_, _, err := c.Fetch("no-such-package")
	if err != ErrNotFound {
		t.Errorf("Received %v, expected ErrNotFound", err)
	}
}

func TestFetchBadDownload(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pypi/spam/json" {
			w.Write([]byte(`{"urls":[{"packagetype":"sdist","url":"` +
				ts.URL + `/files/gone.tar.gz","filename":"gone.tar.gz"}]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer ts.Close()
	c := NewClient(ts.URL, 0, 1)
	defer c.Stop()

	// a failed download must not leave the temp dir behind
	before := tempdirs(t)
	_, _, err := c.Fetch("spam")
	if err == nil {
		t.Fatal("Received nil error")
	}
	if after := tempdirs(t); after != before {
		t.Errorf("Received %d temp dirs, expected %d", after, before)
	}
}

func tempdirs(t *testing.T) int {
	entries, err := ioutil.ReadDir(os.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var n int
	for _, e := range entries {
		if len(e.Name()) > 13 && e.Name()[:13] == "pindex-fetch-" {
			n++
		}
	}
	return n
}
