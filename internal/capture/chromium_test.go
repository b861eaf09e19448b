package capture

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidates(t *testing.T) {
	_, err := New(Options{OutputPath: "x.png"})
	assert.Error(t, err)

	_, err = New(Options{URL: "http://127.0.0.1/week"})
	assert.Error(t, err)

	c, err := New(Options{URL: "http://127.0.0.1/week", OutputPath: "x.png"})
	require.NoError(t, err)
	assert.Equal(t, DefaultWidth, c.opts.Width)
	assert.Equal(t, DefaultTimeout, c.opts.Timeout)
}

func TestCaptureWithChrome(t *testing.T) {
	if os.Getenv("WEEKCAL_TEST_CHROME") == "" {
		t.Skip("WEEKCAL_TEST_CHROME not set")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body><div data-ready="true">week</div></body></html>`)
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "preview.png")
	c, err := New(Options{URL: srv.URL, OutputPath: out, Width: 320, Height: 240})
	require.NoError(t, err)
	require.NoError(t, c.Capture(context.Background()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}
