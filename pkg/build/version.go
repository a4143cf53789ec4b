package build

// Set at link time via -ldflags "-X github.com/storacha/deal-ingester/pkg/build.Version=...".
var (
	Version = "v0.0.0-dev"
	Commit  = "unknown"
	Date    = "unknown"
	BuiltBy = "unknown"
)
