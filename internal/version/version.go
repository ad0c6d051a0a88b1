package version

// Build metadata, overridden at link time:
//
//	go build -ldflags "-X eodbars/internal/version.Version=v1.2.0 -X eodbars/internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return Version + " (" + Commit + ", " + BuildDate + ")"
}
