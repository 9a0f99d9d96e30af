package tcx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sstent/fitbitkml/internal/fileutil"
	"github.com/sstent/fitbitkml/internal/logging"
)

// Fetcher retrieves a TCX payload. *fitbit.Client implements it.
type Fetcher interface {
	DownloadTCX(ctx context.Context, link string) ([]byte, error)
}

// DownloadRecorder is notified after each file lands on disk.
type DownloadRecorder interface {
	MarkDownloaded(link, path string) error
}

// Summary reports what a run did.
type Summary struct {
	Total             int
	Downloaded        int
	AlreadyDownloaded int
	DryRunListed      int
}

// RunOptions controls a download run.
type RunOptions struct {
	// PlanPath, when set, is rewritten after every successful download.
	PlanPath string
	DryRun   bool
	Recorder DownloadRecorder
}

// Downloader works through a plan one item at a time.
type Downloader struct {
	fetcher Fetcher
}

// NewDownloader returns a downloader that fetches through f.
func NewDownloader(f Fetcher) *Downloader {
	return &Downloader{fetcher: f}
}

// Run downloads every pending item in order. The first fetch error stops
// the run; the returned summary covers the items handled before it, and the
// saved plan lets the next run pick up where this one stopped.
func (d *Downloader) Run(ctx context.Context, plan *Plan, opts RunOptions) (Summary, error) {
	summary := Summary{Total: plan.Len()}
	log := logging.With().Str("component", "tcx_downloader").Logger()

	if opts.DryRun {
		for _, it := range plan.Items {
			if it.Downloaded {
				summary.AlreadyDownloaded++
			} else {
				summary.DryRunListed++
				log.Info().Str("link", it.URL).Str("target", it.Path).Msg("tcx_pending")
			}
		}
		return summary, nil
	}

	for _, it := range plan.Items {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if fileExists(it.Path) {
			summary.AlreadyDownloaded++
			if !it.Downloaded {
				it.Downloaded = true
				if err := d.checkpoint(plan, it, opts); err != nil {
					return summary, err
				}
			}
			continue
		}
		it.Downloaded = false

		content, err := d.fetcher.DownloadTCX(ctx, it.URL)
		if err != nil {
			logging.Err(err).Str("link", it.URL).Msg("tcx_download_failed")
			return summary, fmt.Errorf("failed to download %s: %w", it.URL, err)
		}

		if err := os.MkdirAll(filepath.Dir(it.Path), 0o755); err != nil {
			return summary, fmt.Errorf("failed to create directory for %s: %w", it.Path, err)
		}
		if err := fileutil.WriteFileAtomic(it.Path, content, 0o644); err != nil {
			return summary, fmt.Errorf("failed to write %s: %w", it.Path, err)
		}

		it.Downloaded = true
		summary.Downloaded++
		log.Info().Str("link", it.URL).Str("target", it.Path).Int("bytes", len(content)).Msg("tcx_downloaded")

		if err := d.checkpoint(plan, it, opts); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

func (d *Downloader) checkpoint(plan *Plan, it *PlanItem, opts RunOptions) error {
	if opts.PlanPath != "" {
		if err := SavePlan(plan, opts.PlanPath); err != nil {
			return err
		}
	}
	if opts.Recorder != nil {
		if err := opts.Recorder.MarkDownloaded(it.URL, it.Path); err != nil {
			return fmt.Errorf("failed to record download of %s: %w", it.URL, err)
		}
	}
	return nil
}
