package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, Commit, info.Commit)
	assert.Equal(t, GoVersion, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestStringFormats(t *testing.T) {
	origCommit := Commit
	defer func() { Commit = origCommit }()

	Commit = "unknown"
	assert.True(t, strings.HasPrefix(String(), ApplicationName+" version "))
	assert.Equal(t, ApplicationName+" "+Version, Short())

	Commit = "abcdef0123456789"
	assert.Contains(t, String(), "commit: abcdef01")
	assert.Contains(t, Short(), "(abcdef01)")
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, ApplicationName+"/"+Version, UserAgent())
}
