package pipeline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/multierr"
)

const progressThrottle = 100 * time.Millisecond

type inputConfig struct {
	progress io.Writer
}

type InputOption func(*inputConfig)

// WithProgress renders a progress bar over the bytes read from the input
// file to w.
func WithProgress(w io.Writer) InputOption {
	return func(c *inputConfig) {
		c.progress = w
	}
}

type input struct {
	io.Reader
	closers []func() error
}

func (i *input) Close() error {
	var err error
	for j := len(i.closers) - 1; j >= 0; j-- {
		err = multierr.Append(err, i.closers[j]())
	}
	return err
}

// OpenInput opens the deals file at path. Files ending in .zst are
// decompressed on the fly.
func OpenInput(path string, opts ...InputOption) (io.ReadCloser, error) {
	cfg := inputConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	in := &input{Reader: f, closers: []func() error{f.Close}}

	if cfg.progress != nil {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("reading input size: %w", err)
		}
		bar := progressbar.NewOptions64(
			info.Size(),
			progressbar.OptionSetWriter(cfg.progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetDescription("Reading deals"),
			progressbar.OptionThrottle(progressThrottle),
			progressbar.OptionOnCompletion(func() {
				_, _ = fmt.Fprint(cfg.progress, "\n")
			}),
		)
		in.Reader = io.TeeReader(in.Reader, bar)
		in.closers = append(in.closers, bar.Finish)
	}

	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(in.Reader)
		if err != nil {
			_ = in.Close()
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		in.Reader = dec
		in.closers = append(in.closers, func() error {
			dec.Close()
			return nil
		})
	}

	return in, nil
}

// CreateOutput creates (or truncates) the tasks file at path.
func CreateOutput(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}
	return f, nil
}
