package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
	"testing"
)

// stamp replaces the embedded build info for one test.
func stamp(t *testing.T, settings ...debug.BuildSetting) {
	t.Helper()
	prevRead, prevVCS := readBuildInfo, vcs
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
	vcs = sync.OnceValue(readVCS)
	t.Cleanup(func() { readBuildInfo, vcs = prevRead, prevVCS })
}

func TestGet(t *testing.T) {
	tests := []struct {
		name       string
		commit     string
		settings   []debug.BuildSetting
		wantCommit string
		wantTime   string
		wantString string
	}{
		{
			name:       "no stamp",
			commit:     unknown,
			wantCommit: unknown,
			wantTime:   unknown,
			wantString: "dev (unknown) built at unknown",
		},
		{
			name:   "vcs stamp",
			commit: unknown,
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
				{Key: "vcs.time", Value: "2026-10-01T08:00:00Z"},
				{Key: "vcs.modified", Value: "true"},
			},
			wantCommit: "0123456789ab",
			wantTime:   "2026-10-01T08:00:00Z",
			wantString: "dev (0123456789ab, modified) built at 2026-10-01T08:00:00Z",
		},
		{
			name:       "ldflags win",
			commit:     "a1b2c3d",
			settings:   []debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffffffffffff"}},
			wantCommit: "a1b2c3d",
			wantTime:   unknown,
			wantString: "dev (a1b2c3d) built at unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stamp(t, tt.settings...)
			prev := Commit
			Commit = tt.commit
			t.Cleanup(func() { Commit = prev })

			info := Get()
			if info.Commit != tt.wantCommit || info.BuildTime != tt.wantTime {
				t.Errorf("Get() = %+v", info)
			}
			if info.GoVersion != runtime.Version() {
				t.Errorf("GoVersion = %q", info.GoVersion)
			}
			if got := String(); got != tt.wantString {
				t.Errorf("String() = %q, want %q", got, tt.wantString)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	if got, want := UserAgent("cli"), "cloudlock-cli/"+Version; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}
