// Package version reports build identity for logs, the hello frame, and
// outbound User-Agent headers.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden with -ldflags "-X github.com/soyeahso/concierge/internal/version.Version=1.0.0".
// Commit and Date fall back to the VCS stamp the go tool embeds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func init() {
	if bi, ok := debug.ReadBuildInfo(); ok {
		Commit, Date = fromBuildSettings(bi.Settings, Commit, Date)
	}
}

// fromBuildSettings fills commit and date from vcs.* settings when they
// were not injected at link time. A dirty tree marks the commit.
func fromBuildSettings(settings []debug.BuildSetting, commit, date string) (string, string) {
	var rev, at string
	dirty := false
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.time":
			at = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if commit == "unknown" && rev != "" {
		commit = rev
		if dirty {
			commit += "-dirty"
		}
	}
	if date == "unknown" && at != "" {
		date = at
	}
	return commit, date
}

// Info is the one-line banner printed by the version command.
func Info() string {
	return fmt.Sprintf("concierge %s (commit: %s, built: %s, %s, %s/%s)",
		Version, short(Commit), Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent on outbound calls to generator providers.
func UserAgent() string {
	return fmt.Sprintf("concierge/%s (+%s)", Version, short(Commit))
}

// short trims a commit hash to seven characters, keeping a -dirty suffix.
func short(s string) string {
	const suffix = "-dirty"
	dirty := len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix
	if dirty {
		s = s[:len(s)-len(suffix)]
	}
	if len(s) > 7 {
		s = s[:7]
	}
	if dirty {
		s += suffix
	}
	return s
}
