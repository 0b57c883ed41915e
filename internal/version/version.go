// Package version reports the codepad build stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"git_commit" yaml:"git_commit"`
	BuildTime time.Time `json:"build_time" yaml:"build_time"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
	Dirty     bool      `json:"dirty,omitempty" yaml:"dirty,omitempty"`
}

// Set with -ldflags "-X github.com/conneroisu/codepad/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	// BuildTime is RFC3339.
	BuildTime = "unknown"
)

// GetBuildInfo returns the build information of the running binary.
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   getVersion(),
		GitCommit: getGitCommit(),
		BuildTime: parseBuildTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:     vcsSetting("vcs.modified") == "true",
	}
}

// getVersion returns the stamped version, falling back to the module
// version or the VCS revision recorded by the go tool.
func getVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	if rev := vcsSetting("vcs.revision"); len(rev) >= 7 {
		return "dev-" + rev[:7]
	}
	return "dev"
}

// getGitCommit returns the commit the binary was built from.
func getGitCommit() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if rev := vcsSetting("vcs.revision"); rev != "" {
		return rev
	}
	return "unknown"
}

// GetShortVersion returns the version for display in the page header.
func GetShortVersion() string {
	v := getVersion()
	commit := getGitCommit()
	if commit == "unknown" || len(commit) < 7 {
		return v
	}
	if strings.HasPrefix(v, "dev") {
		return "dev-" + commit[:7]
	}
	return fmt.Sprintf("%s (%s)", v, commit[:7])
}

// GetDetailedVersion returns one "Key: value" line per build attribute.
func GetDetailedVersion() string {
	info := GetBuildInfo()

	lines := []string{"codepad " + info.Version}
	if info.GitCommit != "unknown" {
		commit := info.GitCommit
		if info.Dirty {
			commit += " (modified)"
		}
		lines = append(lines, "Commit: "+commit)
	}
	if !info.BuildTime.IsZero() {
		lines = append(lines, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+info.GoVersion, "Platform: "+info.Platform)
	return strings.Join(lines, "\n")
}

func vcsSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

func parseBuildTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
