package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_IsDevOrSemver(t *testing.T) {
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	assert.True(t, semver.MatchString(Version), "got %q", Version)
}

func TestString_IncludesBuildInfo(t *testing.T) {
	s := String()

	assert.Contains(t, s, "pagesearch "+Version)
	assert.Contains(t, s, "commit: "+Commit)
	assert.Contains(t, s, runtime.Version())
}

func TestShort(t *testing.T) {
	assert.Equal(t, Version, Short())
}

func TestGetInfo_JSON(t *testing.T) {
	// Given structured build info
	info := GetInfo()

	// When encoded
	data, err := json.Marshal(info)
	require.NoError(t, err)

	// Then platform fields are present under snake_case keys
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, runtime.GOOS, decoded["os"])
	assert.Equal(t, runtime.GOARCH, decoded["arch"])
	assert.Equal(t, Version, decoded["version"])
	assert.Contains(t, decoded, "go_version")
}
