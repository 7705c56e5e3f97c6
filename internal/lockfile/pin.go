package lockfile

import (
	"regexp"
	"strings"

	"github.com/kb-labs/devlink/internal/planner"
)

var concreteVersion = regexp.MustCompile(`\d+\.\d+\.\d+(?:[-+][0-9A-Za-z.-]+)?`)

// applyPin applies the pin policy to a resolved version specifier.
//
//	exact: extract a concrete x.y.z from the range or installed version;
//	       specifiers carrying no concrete version are left untouched.
//	caret: prefix a concrete version with ^; already-ranged specifiers are
//	       left untouched.
func applyPin(pin planner.PinPolicy, version string) string {
	switch pin {
	case planner.PinExact:
		if m := concreteVersion.FindString(version); m != "" {
			return m
		}
		return version

	case planner.PinCaret:
		if isConcrete(version) {
			return "^" + version
		}
		return version
	}
	return version
}

// isConcrete reports whether the specifier is a bare x.y.z version with no
// range operator.
func isConcrete(version string) bool {
	if version == "" {
		return false
	}
	if strings.ContainsAny(version, "^~><*|= ") {
		return false
	}
	return concreteVersion.MatchString(version)
}
