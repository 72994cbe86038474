// Package meta extracts package metadata from Python distribution files.
//
// It understands source distributions (.tar.gz, .tgz, .tar.bz2, .tar.xz,
// .tar, and zip sdists), wheels (.whl), and eggs (.egg). The metadata is
// read from the PKG-INFO or METADATA file inside the archive and parsed as
// the email-style header block defined by the metadata specs.
package meta

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/bzip2"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// ErrNoMetadata indicates an artifact whose format could not be
// introspected. It is a soft failure: the caller should abort ingesting
// that artifact and carry on.
var ErrNoMetadata = errors.New("no metadata found in artifact")

// Metadata is the parsed metadata of one distribution file.
type Metadata struct {
	Name            string
	Version         string
	MetadataVersion string
	AuthorEmail     string
	Classifiers     []string
	// SourceDist is true when the artifact is a source distribution,
	// regardless of its file extension.
	SourceDist bool
	// Fields holds every header from the metadata block. Keys may be
	// multi-valued (e.g. Classifier).
	Fields map[string][]string
	// Filename is the base name of the artifact the metadata came from.
	Filename string
}

// Extract reads the metadata from the artifact at path. It returns
// ErrNoMetadata (possibly wrapped) when the artifact cannot be
// introspected.
func Extract(fpath string) (*Metadata, error) {
	filename := path.Base(slashed(fpath))
	var fields map[string][]string
	var sourcedist bool
	var err error

	switch {
	case hasSuffix(filename, ".whl"), hasSuffix(filename, ".egg"):
		fields, _, err = zipMetadata(fpath)
	case hasSuffix(filename, ".zip"):
		var distinfo bool
		fields, distinfo, err = zipMetadata(fpath)
		// a zip with a PKG-INFO but no dist-info is an sdist
		sourcedist = err == nil && !distinfo
	case hasSuffix(filename, ".tar.gz"), hasSuffix(filename, ".tgz"),
		hasSuffix(filename, ".tar.bz2"), hasSuffix(filename, ".tar.xz"),
		hasSuffix(filename, ".tar"):
		fields, err = tarMetadata(fpath, filename)
		sourcedist = err == nil
	default:
		return nil, errors.Wrapf(ErrNoMetadata, "unknown artifact type %s", filename)
	}
	if err != nil {
		return nil, err
	}

	md := &Metadata{
		Name:            first(fields, "Name"),
		Version:         first(fields, "Version"),
		MetadataVersion: first(fields, "Metadata-Version"),
		AuthorEmail:     first(fields, "Author-email"),
		Classifiers:     fields["Classifier"],
		SourceDist:      sourcedist,
		Fields:          fields,
		Filename:        filename,
	}
	if md.Name == "" || md.Version == "" {
		return nil, errors.Wrapf(ErrNoMetadata, "missing name or version in %s", filename)
	}
	return md, nil
}

// zipMetadata finds the metadata member of a zip based artifact: wheels
// keep it in *.dist-info/METADATA, eggs in EGG-INFO/PKG-INFO, and zip
// sdists in <pkg>/PKG-INFO. The second return value reports whether the
// metadata came from a dist-info directory.
func zipMetadata(fpath string) (map[string][]string, bool, error) {
	zr, err := zip.OpenReader(fpath)
	if err != nil {
		return nil, false, errors.Wrap(ErrNoMetadata, err.Error())
	}
	defer zr.Close()

	var best *zip.File
	for _, f := range zr.File {
		name := f.Name
		base := path.Base(name)
		switch {
		case strings.HasSuffix(name, ".dist-info/METADATA"),
			base == "PKG-INFO":
			// prefer the shallowest candidate
			if best == nil || depth(name) < depth(best.Name) {
				best = f
			}
		}
	}
	if best == nil {
		return nil, false, errors.Wrap(ErrNoMetadata, "no metadata member in zip")
	}
	rc, err := best.Open()
	if err != nil {
		return nil, false, errors.Wrap(ErrNoMetadata, err.Error())
	}
	defer rc.Close()
	fields, err := parseHeaders(rc)
	return fields, strings.HasSuffix(best.Name, ".dist-info/METADATA"), err
}

// tarMetadata scans a (possibly compressed) tarball for its PKG-INFO.
func tarMetadata(fpath, filename string) (map[string][]string, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return nil, errors.Wrap(ErrNoMetadata, err.Error())
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case hasSuffix(filename, ".tar.gz"), hasSuffix(filename, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(ErrNoMetadata, err.Error())
		}
		defer gz.Close()
		r = gz
	case hasSuffix(filename, ".tar.bz2"):
		r = bzip2.NewReader(f)
	case hasSuffix(filename, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(ErrNoMetadata, err.Error())
		}
		r = xr
	}

	// remember the shallowest PKG-INFO; sdists have it at <pkg>/PKG-INFO
	var found map[string][]string
	var foundDepth = -1
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(ErrNoMetadata, err.Error())
		}
		if hdr.Typeflag != tar.TypeReg || path.Base(hdr.Name) != "PKG-INFO" {
			continue
		}
		d := depth(hdr.Name)
		if foundDepth != -1 && d >= foundDepth {
			// skip deeper copies, e.g. inside .egg-info
			continue
		}
		fields, err := parseHeaders(tr)
		if err != nil {
			continue
		}
		found = fields
		foundDepth = d
	}
	if found == nil {
		return nil, errors.Wrap(ErrNoMetadata, "no PKG-INFO in tarball")
	}
	return found, nil
}

// parseHeaders reads an email-style header block: "Key: value" lines with
// indented continuations, ended by a blank line (the long description
// follows and is ignored).
func parseHeaders(r io.Reader) (map[string][]string, error) {
	fields := make(map[string][]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var lastkey string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			// folded continuation of the previous header
			if lastkey != "" {
				vs := fields[lastkey]
				vs[len(vs)-1] += " " + strings.TrimSpace(line)
			}
			continue
		}
		i := strings.Index(line, ":")
		if i <= 0 {
			continue
		}
		key := line[:i]
		value := strings.TrimSpace(line[i+1:])
		fields[key] = append(fields[key], value)
		lastkey = key
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(ErrNoMetadata, err.Error())
	}
	if len(fields) == 0 {
		return nil, errors.Wrap(ErrNoMetadata, "empty metadata block")
	}
	return fields, nil
}

func first(fields map[string][]string, key string) string {
	if vs := fields[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// depth counts the path separators in an archive member name.
func depth(name string) int {
	return strings.Count(path.Clean(name), "/")
}

func hasSuffix(name, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(name), suffix)
}

// slashed normalizes Windows style separators in the rare case an
// artifact path comes in with them.
func slashed(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
