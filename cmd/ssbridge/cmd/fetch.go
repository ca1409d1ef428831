package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/ssbridge/internal/buffer"
	"github.com/jmylchreest/ssbridge/internal/fetch"
	"github.com/jmylchreest/ssbridge/internal/manifest"
	"github.com/jmylchreest/ssbridge/internal/observability"
	"github.com/jmylchreest/ssbridge/internal/sink"
	"github.com/jmylchreest/ssbridge/pkg/httpclient"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run a fetch job",
	Long: `Fetch the segments described by a YAML job file, rewrite legacy fragments
and append them to an in-process media buffer whose bytes are written to --out.

A job file looks like:

  stream:
    base_url: http://origin.example.com/video.ism/
    protocol: smooth
  init_segment: init.mp4
  early_stop_statuses: "404"
  segments:
    - id: 0
      url: QualityLevels(1500000)/Fragments(video=0)
      start_time: 0
      end_time: 2`,
	RunE: runFetch,
}

var fetchEarlyStop statusCodesValue

func init() {
	fetchCmd.Flags().String("job", "", "job file")
	fetchCmd.Flags().Var(&fetchEarlyStop, "early-stop", "status codes ending the job successfully (overrides job and config)")
	fetchCmd.Flags().String("out", "", "output file for appended media")
	_ = fetchCmd.MarkFlagRequired("job")
	_ = fetchCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, _ []string) (err error) {
	jobPath, _ := cmd.Flags().GetString("job")
	outPath, _ := cmd.Flags().GetString("out")

	job, err := manifest.LoadJob(jobPath)
	if err != nil {
		return err
	}
	segments, err := job.ResolvedSegments()
	if err != nil {
		return err
	}

	// Precedence: --early-stop > job file > configuration.
	earlyStop := cfg.Fetch.EarlyStopSet()
	switch {
	case cmd.Flags().Changed("early-stop"):
		earlyStop = fetchEarlyStop.set
	case job.EarlyStopStatuses != "":
		if earlyStop, err = httpclient.ParseStatusCodes(job.EarlyStopStatuses); err != nil {
			return fmt.Errorf("job early_stop_statuses: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := fetch.NewHTTPFetcher(newHTTPClient(), logger)

	initSegment, err := loadInitSegment(ctx, fetcher, &job.Stream, job.InitSegment)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing output: %w", cerr)
		}
	}()

	mediaBuffer := sink.New(
		sink.WithWriter(out),
		sink.WithTimescale(cfg.Sink.DefaultTimescale),
		sink.WithLogger(logger),
	)
	manager := buffer.NewManager(mediaBuffer, fetcher,
		buffer.WithLogger(logger),
		buffer.WithMaxAttempts(cfg.Fetch.RetryAttempts),
		buffer.WithDefaultSegmentDuration(cfg.Buffer.DefaultSegmentDuration),
	)
	defer manager.Destroy()

	done := observability.TimedOperationWithError(ctx, logger, "fetch_job", &err)
	defer done()

	err = manager.Fetch(ctx, buffer.FetchRequest{
		Segments:          segments,
		InitSegment:       initSegment,
		EarlyStopStatuses: earlyStop,
		Stream:            &job.Stream,
	})
	if err != nil {
		return err
	}

	return printFetchResult(cmd.OutOrStdout(), manager, mediaBuffer, len(segments))
}

// loadInitSegment reads ref from disk when such a file exists and fetches it
// relative to the stream otherwise.
func loadInitSegment(ctx context.Context, fetcher fetch.Fetcher, stream *manifest.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, nil
	}
	data, err := os.ReadFile(ref)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading init segment: %w", err)
	}

	u, err := stream.ResolveURL(ref)
	if err != nil {
		return nil, err
	}
	data, err = fetcher.Fetch(ctx, fetch.Request{URL: u, End: -1})
	if err != nil {
		return nil, fmt.Errorf("fetching init segment: %w", err)
	}
	logger.DebugContext(ctx, "init segment fetched", slog.String("url", u), slog.Int("bytes", len(data)))
	return data, nil
}

func printFetchResult(w io.Writer, m *buffer.Manager, b *sink.Buffer, requested int) error {
	inserted := m.Inserted()
	if _, err := fmt.Fprintf(w, "inserted %d of %d segments: %v\n", len(inserted), requested, inserted); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "buffered %s (%d bytes)\n", b.Buffered(), b.BytesAppended())
	return err
}
