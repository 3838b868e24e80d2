package version

import "runtime/debug"

var (
	// Version is the release version (set via -ldflags).
	Version = ""
	// Commit is the git commit hash (set via -ldflags).
	Commit = ""
)

type Info struct {
	Version string
	Commit  string
}

// Resolve fills in any fields not set at link time from the embedded module
// build info.
func Resolve() Info {
	resolved := Info{Version: Version, Commit: Commit}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if resolved.Version == "" && bi.Main.Version != "" {
			resolved.Version = bi.Main.Version
		}
		if resolved.Commit == "" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					resolved.Commit = s.Value
					break
				}
			}
		}
	}
	if resolved.Version == "" {
		resolved.Version = "(devel)"
	}
	return resolved
}

func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	return info.Version + " (" + shortCommit(info.Commit) + ")"
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}
