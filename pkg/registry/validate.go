package registry

import "regexp"

// semverPattern matches a full semver version (semver.org, without a
// leading "v"). Full semver parsing is deliberately out of scope; publishes
// only need to reject version keys that are not semver-shaped.
var semverPattern = regexp.MustCompile(
	`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
		`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
		`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// isSemver reports whether version is a valid semver string
func isSemver(version string) bool {
	return semverPattern.MatchString(version)
}
