// Package upstream downloads distribution files from a public package
// index such as pypi.org. It is used by the proxy layer to materialize
// packages that are not registered locally.
package upstream

import (
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/pindex/pindex/util"
)

// ErrNotFound means the upstream index has no package matching the label.
var ErrNotFound = errors.New("upstream has no such package")

// DefaultTimeout bounds one whole fetch (metadata query plus download).
// A fetch hitting the deadline is reported as a failure; the caller falls
// back to a mirror rather than waiting on a hung upstream.
const DefaultTimeout = 30 * time.Second

// Client fetches packages from one upstream index. The index must expose
// the JSON API at {BaseURL}/pypi/{name}/json.
type Client struct {
	BaseURL string
	client  *http.Client
	gate    *util.Gate
}

// NewClient creates a Client for the index at baseURL. timeout bounds each
// fetch (DefaultTimeout when zero) and maxFetches bounds how many fetches
// may run at once.
func NewClient(baseURL string, timeout time.Duration, maxFetches int) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxFetches <= 0 {
		maxFetches = 4
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		gate:    util.NewGate(maxFetches),
	}
}

// Stop shuts down the client. Fetches waiting on the concurrency gate
// return errors; fetches already running are unaffected.
func (c *Client) Stop() {
	c.gate.Stop()
}

// Fetch downloads the artifact for the given label, which is either a
// bare package name or "name==version". It returns the path of the
// downloaded file and a cleanup function removing the scoped temporary
// directory the file lives in. The cleanup function must be called once
// the caller is done with the path; it is safe to call on every exit
// path. When the upstream has no such label, ErrNotFound is returned.
func (c *Client) Fetch(label string) (string, func(), error) {
	name, version := ParseLabel(label)

	if !c.gate.Enter() {
		return "", nil, errors.New("upstream client is stopped")
	}
	defer c.gate.Leave()

	dlurl, filename, err := c.resolve(name, version)
	if err != nil {
		return "", nil, err
	}

	dir, err := ioutil.TempDir("", "pindex-fetch-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	path := filepath.Join(dir, filename)
	if err := c.download(dlurl, path); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// ParseLabel splits a fetch label into a package name and an optional
// version, e.g. "spam==1.0" gives ("spam", "1.0").
func ParseLabel(label string) (name, version string) {
	if i := strings.Index(label, "=="); i >= 0 {
		return label[:i], label[i+2:]
	}
	return label, ""
}

// resolve queries the upstream JSON API and picks the artifact to
// download, preferring a source distribution.
func (c *Client) resolve(name, version string) (dlurl, filename string, err error) {
	apiurl := c.BaseURL + "/pypi/" + url.PathEscape(name)
	if version != "" {
		apiurl += "/" + url.PathEscape(version)
	}
	apiurl += "/json"

	resp, err := c.client.Get(apiurl)
	if err != nil {
		raven.CaptureError(err, map[string]string{"Package": name, "URL": apiurl})
		return "", "", errors.Wrapf(err, "query %s", apiurl)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", "", ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return "", "", errors.Errorf("upstream returned %d for %s", resp.StatusCode, apiurl)
	}

	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return "", "", errors.Wrap(err, "decode upstream response")
	}
	urls, err := v.GetObjectArray("urls")
	if err != nil || len(urls) == 0 {
		return "", "", ErrNotFound
	}
	pick := urls[0]
	for _, u := range urls {
		ptype, _ := u.GetString("packagetype")
		if ptype == "sdist" {
			pick = u
			break
		}
	}
	dlurl, err = pick.GetString("url")
	if err != nil {
		return "", "", errors.Wrap(err, "upstream response missing url")
	}
	filename, err = pick.GetString("filename")
	if err != nil || filename == "" {
		filename = filepath.Base(dlurl)
	}
	return dlurl, filename, nil
}

// download copies the artifact at dlurl into path.
func (c *Client) download(dlurl, path string) error {
	resp, err := c.client.Get(dlurl)
	if err != nil {
		raven.CaptureError(err, map[string]string{"URL": dlurl})
		return errors.Wrapf(err, "download %s", dlurl)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download %s returned %d", dlurl, resp.StatusCode)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, resp.Body)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	return err
}
