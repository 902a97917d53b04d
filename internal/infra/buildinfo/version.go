package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
)

const unknown = "unknown"

// Set with ldflags.
var (
	Version   = "dev"
	Commit    = unknown
	BuildTime = unknown
)

// Info is the build information of the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

var readBuildInfo = debug.ReadBuildInfo

var vcs = sync.OnceValue(readVCS)

// readVCS reads the VCS stamp embedded by the go command.
func readVCS() Info {
	var info Info
	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
			if len(info.Commit) > 12 {
				info.Commit = info.Commit[:12]
			}
		case "vcs.time":
			info.BuildTime = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// Get returns the build information, preferring ldflags values over the
// embedded VCS stamp.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	stamp := vcs()
	if info.Commit == unknown && stamp.Commit != "" {
		info.Commit = stamp.Commit
		info.Modified = stamp.Modified
	}
	if info.BuildTime == unknown && stamp.BuildTime != "" {
		info.BuildTime = stamp.BuildTime
	}
	return info
}

// String formats the version for --version output.
func String() string {
	info := Get()
	s := info.Version + " (" + info.Commit
	if info.Modified {
		s += ", modified"
	}
	return s + ") built at " + info.BuildTime
}

// UserAgent returns the User-Agent of cloudlock HTTP clients.
func UserAgent(component string) string {
	return "cloudlock-" + component + "/" + Version
}
