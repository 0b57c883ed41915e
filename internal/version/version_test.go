package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func stamp(t *testing.T, v, commit, built string) {
	t.Helper()
	oldV, oldC, oldB := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = v, commit, built
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldV, oldC, oldB })
}

func TestStampedVersion(t *testing.T) {
	stamp(t, "v1.2.3", "0123456789abcdef", "2024-05-01T10:00:00Z")

	assert.Equal(t, "v1.2.3", getVersion())
	assert.Equal(t, "0123456789abcdef", getGitCommit())
	assert.Equal(t, "v1.2.3 (0123456)", GetShortVersion())

	info := GetBuildInfo()
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), info.BuildTime)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")

	detailed := GetDetailedVersion()
	assert.Contains(t, detailed, "codepad v1.2.3")
	assert.Contains(t, detailed, "Commit: 0123456789abcdef")
	assert.Contains(t, detailed, "Built: 2024-05-01T10:00:00Z")
}

func TestShortCommitIsNotAbbreviated(t *testing.T) {
	stamp(t, "v0.1.0", "abc", "unknown")
	assert.Equal(t, "v0.1.0", GetShortVersion())
	assert.True(t, GetBuildInfo().BuildTime.IsZero())
}

func TestParseBuildTime(t *testing.T) {
	tests := []struct {
		in   string
		zero bool
	}{
		{"2024-05-01T10:00:00Z", false},
		{"2024-05-01T10:00:00", false},
		{"2024-05-01 10:00:00", false},
		{"unknown", true},
		{"", true},
		{"yesterday", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.zero, parseBuildTime(tt.in).IsZero())
		})
	}
}
