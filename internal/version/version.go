// Package version holds the release version, bumped by the release workflow.
package version

// Current is the semantic version without a leading "v".
const Current = "0.3.0"

// UserAgent identifies outbound HTTP requests made by the service.
func UserAgent() string {
	return "autoprospect/" + Current
}
