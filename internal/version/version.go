package version

// Tag holds the build version for the dispatch binaries. It can be overridden at
// build time via: go build -ldflags "-X github.com/JustFixNYC/tenants2-sub000/internal/version.Tag=v1.2.3".
var Tag = "dev"

// String returns the current build version, defaulting to "dev" when Tag is
// unset.
func String() string {
	if Tag == "" {
		return "dev"
	}
	return Tag
}
