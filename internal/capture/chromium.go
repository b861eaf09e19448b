// Package capture renders the week page in headless Chromium and saves it
// as a PNG preview.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"weekcal/internal/config"
	appLog "weekcal/internal/log"
)

// Defaults fit a seven column week grid.
const (
	DefaultWidth   = 1280
	DefaultHeight  = 960
	DefaultTimeout = 30 * time.Second
)

// ReadySelector is set by the week page once it has laid out every segment.
const ReadySelector = `[data-ready="true"]`

// Options configure a capture.
type Options struct {
	// URL of the page, e.g. "http://127.0.0.1:8080/week".
	URL string
	// OutputPath receives the PNG.
	OutputPath string
	Width      int
	Height     int
	Timeout    time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// Capturer takes screenshots with fixed options.
type Capturer struct {
	opts Options
}

// New validates opts.
func New(opts Options) (*Capturer, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &Capturer{opts: opts}, nil
}

// OutputPath is where Capture writes.
func (c *Capturer) OutputPath() string { return c.opts.OutputPath }

// Capture navigates to the page, waits for ReadySelector and writes a full
// page screenshot atomically.
func (c *Capturer) Capture(parent context.Context) error {
	started := time.Now()
	png, err := Screenshot(parent, c.opts)
	if err != nil {
		return err
	}
	if err := config.WriteFileAtomic(c.opts.OutputPath, png); err != nil {
		return fmt.Errorf("capture: write png: %w", err)
	}
	appLog.Info("preview captured", "path", c.opts.OutputPath, "bytes", len(png),
		"elapsed_ms", time.Since(started).Milliseconds())
	return nil
}

// Screenshot returns the PNG bytes of opts.URL.
func Screenshot(parent context.Context, opts Options) ([]byte, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, opts.Timeout)
	defer cancelTimeout()

	var png []byte
	err := chromedp.Run(ctx, chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	})
	if err != nil {
		return nil, fmt.Errorf("capture: chromedp: %w", err)
	}
	return png, nil
}
