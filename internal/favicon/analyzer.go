// Package favicon classifies feed favicons as light or dark so the UI can
// pick a contrasting background.
package favicon

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // favicon decoder registration.
	_ "image/jpeg" // favicon decoder registration.
	_ "image/png"  // favicon decoder registration.
	"log/slog"

	color_extractor "github.com/marekm4/color-extractor"

	"feedgate/internal/fetcher"
	"feedgate/internal/model"
	"feedgate/internal/storage"
)

// FetchClient is the subset of the fetcher the analyzer needs.
type FetchClient interface {
	Fetch(ctx context.Context, url string) (*fetcher.Response, error)
}

// Analyzer fetches favicons through the SSRF-safe fetch path and persists
// a brightness classification per feed.
type Analyzer struct {
	store storage.Storage
	fetch FetchClient
	log   *slog.Logger
}

// New creates an Analyzer.
func New(store storage.Storage, fetch FetchClient, log *slog.Logger) *Analyzer {
	return &Analyzer{store: store, fetch: fetch, log: log}
}

// Run analyzes every feed still lacking a brightness classification, or
// every feed with a favicon when force is set. Per-feed failures are
// persisted as the dark default and never abort the batch; the returned
// error is only non-nil for driver-level faults.
func (a *Analyzer) Run(ctx context.Context, force bool) error {
	feeds, err := a.store.ListFeedsForBrightness(ctx, force)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}
	for i := range feeds {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := a.Analyze(ctx, &feeds[i], force); err != nil {
			a.log.Error("persist favicon analysis", "feed_id", feeds[i].ID, "error", err)
		}
	}
	return nil
}

// Analyze classifies one feed's favicon and persists the result. Feeds
// without a favicon URL are skipped, as are already-analyzed feeds unless
// forced. A failed fetch or an undecodable image is persisted as dark:
// a wrong dark guess is visually safe against light-on-light regressions,
// and persisting stops the feed from being retried every cycle. The
// returned error reports storage faults only.
func (a *Analyzer) Analyze(ctx context.Context, feed *model.Feed, force bool) (model.Brightness, error) {
	if feed.FaviconURL == "" {
		return model.BrightnessUnknown, nil
	}
	if feed.FaviconDark != model.BrightnessUnknown && !force {
		return feed.FaviconDark, nil
	}

	brightness := model.BrightnessDark
	colorHex := ""

	resp, err := a.fetch.Fetch(ctx, feed.FaviconURL)
	if err != nil {
		a.log.Warn("favicon fetch failed, defaulting to dark",
			"feed_id", feed.ID, "url", feed.FaviconURL, "error", err)
	} else if img, _, err := image.Decode(bytes.NewReader(resp.Body)); err != nil {
		a.log.Warn("favicon not decodable, defaulting to dark",
			"feed_id", feed.ID, "url", feed.FaviconURL, "error", err)
	} else {
		if !isDark(img) {
			brightness = model.BrightnessLight
		}
		colorHex = dominantColor(img)
	}

	if err := a.store.SetFaviconAnalysis(ctx, feed.ID, brightness, colorHex); err != nil {
		return model.BrightnessUnknown, err
	}
	feed.FaviconDark = brightness
	feed.FaviconColor = colorHex
	return brightness, nil
}

// isDark averages perceptual luminance (ITU-R BT.601 weights) over every
// pixel and classifies dark below the midpoint.
func isDark(img image.Image) bool {
	bounds := img.Bounds()
	var total float64
	var pixels int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// RGBA returns 16-bit channels; scale to 0..255.
			total += (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
			pixels++
		}
	}
	if pixels == 0 {
		return true
	}
	return total/float64(pixels) < 128
}

func dominantColor(img image.Image) string {
	colors := color_extractor.ExtractColors(img)
	if len(colors) == 0 {
		return ""
	}
	r, g, b, _ := colors[0].RGBA()
	return fmt.Sprintf("#%02x%02x%02x", uint8(r>>8), uint8(g>>8), uint8(b>>8))
}
