package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/mfenderov/doclens/internal/pipeline"
)

var (
	watchExisting bool
	watchForceOCR bool
	watchSettle   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Extract documents as they arrive in an inbox directory",
	Long: `Watch a directory and extract every supported document written to it.

A file is extracted once it has stopped changing for the settle time, so
large copies are not read half-written. The directory defaults to
extract.inbox from the config.

Examples:
  # Watch ./inbox, also extracting what is already there
  doclens watch ./inbox --existing`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "Extract documents already in the directory first")
	watchCmd.Flags().BoolVar(&watchForceOCR, "force-ocr", false, "Run OCR on PDFs even when they have a text layer")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", time.Second, "How long a file must be unchanged before extraction")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	dir := cfg.Extract.Inbox
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return errors.New("no inbox directory: pass one or set extract.inbox")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	p := newPipeline(a, watchForceOCR, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if watchExisting {
		inputs, err := p.Files([]string{dir})
		if err != nil {
			return err
		}
		extractAll(ctx, p, inputs)
	}

	ready := make(chan string, 64)
	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	settle := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(watchSettle)
			return
		}
		timers[path] = time.AfterFunc(watchSettle, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", dir)
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopped.")
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && p.Match(ev.Name) {
				slog.Debug("inbox event", "path", ev.Name, "op", ev.Op.String())
				settle(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		case path := <-ready:
			extractAll(ctx, p, []pipeline.Input{pipeline.FileInput(path)})
		}
	}
}

func extractAll(ctx context.Context, p *pipeline.Pipeline, inputs []pipeline.Input) {
	if len(inputs) == 0 {
		return
	}
	result, err := p.Run(ctx, inputs)
	if err != nil {
		return
	}
	for _, item := range result.Items {
		printOutcome(item.Name, item.Outcome, item.Err)
	}
}
