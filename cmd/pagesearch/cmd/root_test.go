package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

// cli runs commands against one temp data dir with the static embedder.
type cli struct {
	t       *testing.T
	dataDir string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PAGESEARCH_EMBEDDER", "static")
	t.Setenv("PAGESEARCH_DIMENSIONS", "32")
	t.Setenv("PAGESEARCH_CHUNK_SIZE", "24")
	t.Setenv("PAGESEARCH_CHUNK_STRIDE", "12")
	t.Setenv("NO_COLOR", "1")
	return &cli{t: t, dataDir: filepath.Join(t.TempDir(), "data")}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var buf bytes.Buffer
	err := Run(context.Background(), append([]string{"--data-dir", c.dataDir}, args...), &buf, &buf)
	return buf.String(), err
}

// writeDoc writes a text document and returns its canonical path.
func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return resolved
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	out := buf.String()
	for _, sub := range []string{"index", "search", "status", "check", "serve", "logs", "config", "version"} {
		assert.Contains(t, out, sub)
	}
	assert.Contains(t, out, "--data-dir")
}

func TestVersionCmd_DoesNotTouchDataDir(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("version", "--short")

	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.NoDirExists(t, c.dataDir)
}

func TestVersionCmd_JSON(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("version", "--json")

	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
}

func TestIndexCmd_RequiresInput(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("index")

	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeInvalidInput))
}

func TestExitCode_JSONErrors(t *testing.T) {
	// Given: an invocation that fails validation
	c := newCLI(t)
	var stdout, stderr bytes.Buffer

	// When: it runs with --json-errors
	code := Main(context.Background(), []string{"--data-dir", c.dataDir, "--json-errors", "index"}, &stdout, &stderr)

	// Then: stderr carries a single JSON error object
	assert.Equal(t, 1, code)
	var decoded struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Category string `json:"category"`
	}
	require.NoError(t, json.Unmarshal(stderr.Bytes(), &decoded), stderr.String())
	assert.Equal(t, perrors.ErrCodeInvalidInput, decoded.Code)
	assert.NotEmpty(t, decoded.Message)
	assert.Equal(t, "VALIDATION", decoded.Category)
}

func TestExitCode_TextErrors(t *testing.T) {
	c := newCLI(t)
	var stdout, stderr bytes.Buffer

	code := Main(context.Background(), []string{"--data-dir", c.dataDir, "index"}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Error: ")
	assert.Contains(t, stderr.String(), "Code: "+perrors.ErrCodeInvalidInput)
}

func TestExitCode_Success(t *testing.T) {
	c := newCLI(t)
	var stdout, stderr bytes.Buffer

	code := Main(context.Background(), []string{"--data-dir", c.dataDir, "version", "--short"}, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Empty(t, stderr.String())
}

func TestIndexCmd_AllMissing_Fails(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("index", "--no-tui", filepath.Join(t.TempDir(), "absent.pdf"))

	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeIndexFailed))
	assert.Contains(t, out, "absent.pdf")
}

func TestIndexThenSearch(t *testing.T) {
	// Given an indexed two-page document
	c := newCLI(t)
	doc := writeDoc(t, "manual.txt", "Replacing the toner cartridge\fConnecting to the wireless network")

	out, err := c.run("index", "--no-tui", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+doc+" (2 pages,")
	assert.Contains(t, out, "1 indexed, 0 skipped, 0 missing, 0 failed")

	// When searching as text
	out, err = c.run("search", "-n", "2", "wireless", "network")

	// Then hits show the path and a 1-based page
	require.NoError(t, err)
	assert.Contains(t, out, doc)
	assert.Contains(t, out, "(page ")
	assert.NotContains(t, out, "(page 0)")

	// When searching as JSON
	out, err = c.run("search", "--format", "json", "toner")
	require.NoError(t, err)
	var doc2 struct {
		Query   string `json:"query"`
		Results []struct {
			Path string `json:"path"`
			Page int    `json:"page"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc2))
	assert.Equal(t, "toner", doc2.Query)
	require.NotEmpty(t, doc2.Results)
	assert.Equal(t, doc, doc2.Results[0].Path)
	assert.GreaterOrEqual(t, doc2.Results[0].Page, 1)
}

func TestIndexCmd_SecondRunSkips(t *testing.T) {
	c := newCLI(t)
	doc := writeDoc(t, "a.txt", "some text worth indexing once")
	_, err := c.run("index", "--no-tui", doc)
	require.NoError(t, err)

	out, err := c.run("index", "--no-tui", doc)

	require.NoError(t, err, "skipped files are not failures")
	assert.Contains(t, out, "0 indexed, 1 skipped")

	out, err = c.run("index", "--no-tui", "--force", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "1 indexed, 0 skipped")
}

func TestSearchCmd_Validation(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("search")
	assert.Error(t, err, "query is required")

	_, err = c.run("search", "--format", "yaml", "q")
	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeInvalidInput))

	_, err = c.run("search", "-n", "0", "q")
	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeInvalidInput))
}

func TestSearchCmd_EmptyIndex(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("search", "anything")

	require.NoError(t, err)
	assert.Equal(t, "No results\n", out)
}

func TestStatusCmd_JSON(t *testing.T) {
	c := newCLI(t)
	doc := writeDoc(t, "a.txt", "first page\fsecond page")
	_, err := c.run("index", "--no-tui", doc)
	require.NoError(t, err)

	out, err := c.run("status", "--json")

	require.NoError(t, err)
	var info struct {
		DataDir   string `json:"data_dir"`
		Documents int    `json:"documents"`
		Pages     int    `json:"pages"`
		Chunks    int    `json:"chunks"`
		Vectors   int    `json:"vectors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, c.dataDir, info.DataDir)
	assert.Equal(t, 1, info.Documents)
	assert.Equal(t, 2, info.Pages)
	assert.Equal(t, info.Chunks, info.Vectors)
}

func TestCheckCmd_Consistent(t *testing.T) {
	c := newCLI(t)
	doc := writeDoc(t, "a.txt", "consistency check material")
	_, err := c.run("index", "--no-tui", doc)
	require.NoError(t, err)

	out, err := c.run("check")

	require.NoError(t, err)
	assert.Contains(t, out, "consistent")
}

func TestLogsCmd_ShowsIndexRun(t *testing.T) {
	c := newCLI(t)
	doc := writeDoc(t, "a.txt", "text for the log test")
	_, err := c.run("index", "--no-tui", doc)
	require.NoError(t, err)

	out, err := c.run("logs", "--grep", "index run")

	require.NoError(t, err)
	assert.Contains(t, out, "index run started")
	assert.Contains(t, out, "index run finished")
}

func TestLogsCmd_InvalidLevel(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("logs", "--level", "loud")

	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeInvalidInput))
}

func TestConfigCmd_InitThenShow(t *testing.T) {
	c := newCLI(t)

	// Given: no user config yet
	out, err := c.run("config", "path")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.NoFileExists(t, path)

	// When: init runs twice
	out, err = c.run("config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	assert.FileExists(t, path)

	out, err = c.run("config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	// Then: the template loads and env overrides still apply
	out, err = c.run("config", "show", "--json")
	require.NoError(t, err)

	var shown struct {
		Chunking struct {
			Size   int `json:"size"`
			Stride int `json:"stride"`
		} `json:"chunking"`
		Search struct {
			Limit int `json:"limit"`
		} `json:"search"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, 24, shown.Chunking.Size)
	assert.Equal(t, 12, shown.Chunking.Stride)
	assert.Equal(t, 10, shown.Search.Limit)
}
