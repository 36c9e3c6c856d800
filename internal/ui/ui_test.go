package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_StringAndIcon(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageExtracting, "Extracting", "EXTRACT"},
		{StageEmbedding, "Embedding", "EMBED"},
		{StageStoring, "Storing", "STORE"},
		{StageComplete, "Complete", "DONE"},
		{Stage(42), "Unknown", "???"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.stage.String())
		assert.Equal(t, tt.icon, tt.stage.Icon())
	}
}

func TestNewConfig_Options(t *testing.T) {
	var buf bytes.Buffer

	cfg := NewConfig(&buf, WithForcePlain(true), WithNoColor(true), WithTitle("docs"))

	assert.Same(t, &buf, cfg.Output)
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "docs", cfg.Title)
}

func TestNewRenderer_NonTTYIsPlain(t *testing.T) {
	// Given: a buffer, which is never a terminal
	var buf bytes.Buffer

	// When: a renderer is created without forcing plain mode
	r := NewRenderer(NewConfig(&buf))

	// Then: the plain renderer is chosen
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	if assert.NoError(t, err) {
		defer f.Close()
		assert.False(t, IsTTY(f))
	}
}

func TestDetectCI(t *testing.T) {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		t.Setenv(v, "")
		_ = os.Unsetenv(v)
	}
	assert.False(t, DetectCI())

	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}
