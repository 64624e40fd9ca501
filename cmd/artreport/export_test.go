package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/art-gallery/api-go/internal/compositor"
	"github.com/example/art-gallery/api-go/internal/model"
)

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".png") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("ART_CONFIG", "")
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestExport_WritesReportWithInProcessRelay(t *testing.T) {
	img := imageServer(t)
	dir := t.TempDir()

	records := []model.Record{
		{Title: "Monsoon Study", Price: 4500, Period: "1998", ImageURL: img.URL + "/a.png"},
		{Title: "Untitled", Price: 800, ImageURL: img.URL + "/b.jpg"},
	}
	raw, err := json.Marshal(records)
	require.NoError(t, err)
	in := filepath.Join(dir, "recs.json")
	require.NoError(t, os.WriteFile(in, raw, 0o644))

	stdout, stderr, err := runCLI(t, "", "export", "--records", in, "--out", dir, "--backoff", "1ms", "--allow-private-hosts")
	require.NoError(t, err)

	assert.Equal(t, "exported successfully! 1 of 2 images loaded. 1 could not be loaded\n", stdout)
	assert.Contains(t, stderr, "(2/2 images loaded)")

	pdf, err := os.ReadFile(filepath.Join(dir, compositor.DefaultFileName))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}

func TestExport_InProcessRelayRefusesLoopbackByDefault(t *testing.T) {
	img := imageServer(t)
	t.Setenv("ART_RELAY_ALLOW_PRIVATE", "")
	out := filepath.Join(t.TempDir(), "report.pdf")
	in := `[{"title":"Local","price":1,"image_url":"` + img.URL + `/a.png"}]`

	stdout, _, err := runCLI(t, in, "export", "--out", out, "--backoff", "1ms")
	require.NoError(t, err)
	assert.Equal(t, "exported successfully! 0 of 1 images loaded. 1 could not be loaded\n", stdout)
}

func TestExport_ReadsWrappedRecordsFromStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.pdf")

	stdout, _, err := runCLI(t, `{"records":[{"title":"No Image","price":10}]}`, "export", "--out", out)
	require.NoError(t, err)
	assert.Equal(t, "exported successfully! 0 of 1 images loaded. 1 could not be loaded\n", stdout)
	assert.FileExists(t, out)
}

func TestExport_RejectsBadInput(t *testing.T) {
	_, _, err := runCLI(t, "", "export", "--records", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty input")

	_, _, err = runCLI(t, "[]", "export", "--period-mode", "decade", "--out", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "period mode")
}

func TestReadRecords_Formats(t *testing.T) {
	arr, err := readRecords(strings.NewReader(`[{"title":"A","image_url":"https://x/a.png"}]`), "-")
	require.NoError(t, err)
	require.Len(t, arr, 1)
	assert.Equal(t, "https://x/a.png", arr[0].ImageURL)

	obj, err := readRecords(strings.NewReader(`{"records":[{"title":"B"},{"title":"C"}]}`), "")
	require.NoError(t, err)
	assert.Len(t, obj, 2)

	_, err = readRecords(strings.NewReader(`{"records":`), "-")
	assert.Error(t, err)
}
