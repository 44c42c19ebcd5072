package internal

import (
	"log/slog"
	"runtime/debug"
	"time"
)

// Build describes the version control state the binary was built from.
type Build struct {
	Revision  string
	Time      time.Time
	Modified  bool
	GoVersion string
}

// BuildInfo is read once at startup. Fields stay at their zero values
// (Revision "unknown") for binaries built without VCS stamping, like tests.
var BuildInfo = readBuild()

func readBuild() Build {
	b := Build{Revision: "unknown"}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	b.GoVersion = info.GoVersion

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			b.Revision = setting.Value
		case "vcs.time":
			// A malformed time is left as the zero time.
			t, err := time.Parse(time.RFC3339, setting.Value)
			if err == nil {
				b.Time = t
			}
		case "vcs.modified":
			b.Modified = setting.Value == "true"
		}
	}

	return b
}

// Version is the revision, suffixed with "-dirty" for modified trees.
func (b Build) Version() string {
	if b.Modified {
		return b.Revision + "-dirty"
	}
	return b.Revision
}

func (b Build) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("revision", b.Revision),
		slog.Time("time", b.Time),
		slog.Bool("modified", b.Modified),
		slog.String("go", b.GoVersion),
	)
}
