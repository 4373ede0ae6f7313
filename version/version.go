package version

// Set with -ldflags "-X github.com/brscrawler/brs-crawler/version.GitVersion=..." at build time.
var (
	GitVersion = "v0.1.0"
	GitCommit  = ""
)

// String returns the version of the crawler and, when known, the commit it was built from.
func String() string {
	if GitCommit == "" {
		return GitVersion
	}
	return GitVersion + "+git." + GitCommit
}
