package index

import "strings"

// DistKind enumerates the distribution types the index recognizes. The
// values are the distutils command names installers expect to see.
type DistKind string

const (
	KindSdist   DistKind = "sdist"         // source distribution
	KindRPM     DistKind = "bdist_rpm"     // binary RPM
	KindWininst DistKind = "bdist_wininst" // Windows installer
	KindEgg     DistKind = "bdist_egg"     // python egg
	KindDmg     DistKind = "bdist_dmg"     // OS X disk image
	KindDumb    DistKind = "bdist_dumb"    // generic binary
)

// ClassifyKind determines the distribution kind of an artifact. An
// artifact the extractor identified as a source distribution is always
// sdist, whatever its file name. Otherwise the file extension decides,
// defaulting to the generic "dumb" binary kind.
func ClassifyKind(sourceDist bool, filename string) DistKind {
	if sourceDist {
		return KindSdist
	}
	name := strings.ToLower(filename)
	switch {
	// ".rmp" is what installers historically sent, odd as it looks
	case strings.HasSuffix(name, ".rmp"), strings.HasSuffix(name, ".srmp"):
		return KindRPM
	case strings.HasSuffix(name, ".exe"):
		return KindWininst
	case strings.HasSuffix(name, ".egg"):
		return KindEgg
	case strings.HasSuffix(name, ".dmg"):
		return KindDmg
	}
	return KindDumb
}
