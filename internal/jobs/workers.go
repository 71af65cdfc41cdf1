package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sylvanops/cogate/internal/runner"
)

// downloadChunk is the copy granularity between cancellation checks.
const downloadChunk = 128 * 1024

// partSuffix marks in-flight downloads. A .part file never survives a
// failed or cancelled job.
const partSuffix = ".part"

// Downloader fetches model and voice artifacts over HTTP.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a Downloader. A nil client uses http.DefaultClient.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client}
}

// DownloadModel returns a Runner fetching url into dest. Progress comes
// from Content-Length when the server sends one. The destination appears
// only after the download completes; cancellation or failure leaves no
// partial file behind.
func (d *Downloader) DownloadModel(url, dest string) Runner {
	return func(ctx context.Context, h *Handle) error {
		return d.fetch(ctx, h, url, dest, 0, 100)
	}
}

// DownloadVoice returns a Runner fetching a voice as two files: the model
// blob and its metadata sidecar. Either both files land or neither does.
func (d *Downloader) DownloadVoice(blobURL, blobDest, sidecarURL, sidecarDest string) Runner {
	return func(ctx context.Context, h *Handle) error {
		// The sidecar is tiny; give the blob nearly the whole bar.
		if err := d.fetch(ctx, h, blobURL, blobDest+partSuffix, 0, 95); err != nil {
			removeQuiet(blobDest + partSuffix)
			return err
		}
		if err := d.fetch(ctx, h, sidecarURL, sidecarDest+partSuffix, 95, 99); err != nil {
			removeQuiet(blobDest + partSuffix)
			removeQuiet(sidecarDest + partSuffix)
			return err
		}
		if err := os.Rename(blobDest+partSuffix, blobDest); err != nil {
			removeQuiet(blobDest + partSuffix)
			removeQuiet(sidecarDest + partSuffix)
			return fmt.Errorf("install voice blob: %w", err)
		}
		if err := os.Rename(sidecarDest+partSuffix, sidecarDest); err != nil {
			removeQuiet(blobDest)
			removeQuiet(sidecarDest + partSuffix)
			return fmt.Errorf("install voice sidecar: %w", err)
		}
		return nil
	}
}

// fetch downloads url into dest, mapping copy progress onto the
// [progressFrom, progressTo] slice of the job's bar. When dest has no
// .part suffix the write goes through a temp file and rename.
func (d *Downloader) fetch(ctx context.Context, h *Handle, url, dest string, progressFrom, progressTo float64) error {
	tmp := dest
	install := false
	if filepath.Ext(dest) != partSuffix {
		tmp = dest + partSuffix
		install = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	total := resp.ContentLength
	var written int64
	buf := make([]byte, downloadChunk)
	for {
		if h.Cancelled() || ctx.Err() != nil {
			f.Close()
			removeQuiet(tmp)
			return context.Canceled
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				removeQuiet(tmp)
				return fmt.Errorf("write %s: %w", tmp, werr)
			}
			written += int64(n)
			if total > 0 {
				frac := float64(written) / float64(total)
				h.Update(progressFrom + frac*(progressTo-progressFrom))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			removeQuiet(tmp)
			return fmt.Errorf("read %s: %w", url, readErr)
		}
	}
	if err := f.Close(); err != nil {
		removeQuiet(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if install {
		if err := os.Rename(tmp, dest); err != nil {
			removeQuiet(tmp)
			return fmt.Errorf("install %s: %w", dest, err)
		}
	}
	h.Update(progressTo)
	return nil
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("removing partial download failed", "path", path, "error", err)
	}
}

// TrainStage is one command of a training run.
type TrainStage struct {
	Name string
	Cmd  string
	Args []string
}

// Trainer runs multi-stage voice training as supervised subprocesses.
type Trainer struct {
	starter runner.Starter
}

// NewTrainer creates a Trainer using the real process starter.
func NewTrainer() *Trainer {
	return &Trainer{starter: runner.ExecStarter{}}
}

// TrainVoice returns a Runner executing stages in order. Progress advances
// by completed stage; cancellation between stages stops the run and the
// running stage's process is stopped through its context.
func (t *Trainer) TrainVoice(stages []TrainStage) Runner {
	return func(ctx context.Context, h *Handle) error {
		if len(stages) == 0 {
			return fmt.Errorf("training has no stages")
		}
		for i, stage := range stages {
			if h.Cancelled() || ctx.Err() != nil {
				return context.Canceled
			}
			slog.Info("training stage starting", "stage", stage.Name, "index", i)

			cmd, err := t.starter.Start(ctx, stage.Cmd, stage.Args, nil)
			if err != nil {
				return fmt.Errorf("stage %q: %w", stage.Name, err)
			}
			waitErr := make(chan error, 1)
			go func() { waitErr <- cmd.Wait() }()
			select {
			case err := <-waitErr:
				if err != nil {
					return fmt.Errorf("stage %q: %w", stage.Name, err)
				}
			case <-ctx.Done():
				cmd.Stop()
				<-waitErr
				return context.Canceled
			}

			h.Update(float64(i+1) / float64(len(stages)) * 100)
		}
		return nil
	}
}
