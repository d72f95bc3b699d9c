package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ayusman/cardsnap/internal/app"
	"github.com/ayusman/cardsnap/internal/display"
	"github.com/ayusman/cardsnap/internal/hook"
	"github.com/ayusman/cardsnap/internal/store"
)

var (
	flagOut       string
	flagNoArchive bool
	flagTimeout   time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a single card without the preview server",
	Long: `Runs one scan session in the terminal and writes the card and face
crops as JPEG files. The session ends at the first capture, when the
video source runs out or on Ctrl+C.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&flagOut, "out", "o", ".", "Directory to write card.jpg and face.jpg into")
	scanCmd.Flags().BoolVar(&flagNoArchive, "no-archive", false, "Do not record the session in the capture archive")
	scanCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "Give up after this long (0 waits forever)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagTimeout)
		defer cancel()
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Searching"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	sc, err := newScanner(cfg, display.Nop{}, display.StatusFunc(bar.Describe))
	if err != nil {
		return err
	}
	defer sc.Close()
	p := sc.pipeline

	if !flagNoArchive {
		st, err := store.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()
		store.NewArchiver(st).Attach(p)
	}

	stopProgress := trackProgress(p, bar)
	c, err := p.Run(ctx)
	stopProgress()
	bar.Finish()

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("scan cancelled: %w", err)
		}
		return err
	}
	if c == nil {
		return fmt.Errorf("no card captured")
	}

	paths, err := hook.WriteImages(flagOut, c)
	if err != nil {
		return err
	}

	fmt.Printf("Captured %s after %d attempts (sharpness %.1f)\n", c.ID, c.Attempts, c.Metrics.Sharpness)
	fmt.Printf("  card: %s\n", paths.Card)
	if paths.Face != "" {
		fmt.Printf("  face: %s\n", paths.Face)
	} else {
		fmt.Println("  face: none found")
	}
	return nil
}

// trackProgress mirrors the pipeline's debounce progress onto bar until
// the returned func is called.
func trackProgress(p *app.Pipeline, bar *progressbar.ProgressBar) func() {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bar.Set(int(p.Progress() * 100))
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}
