package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfenderov/doclens/internal/export"
)

var (
	exportOutput string
	exportUpload bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write committed records to an xlsx workbook",
	Long: `Write every committed record to a new xlsx workbook, one row per record.

Examples:
  doclens export
  doclens export -o records.xlsx
  doclens export --upload   # also store it in the s3 bucket`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Workbook path (default: timestamped name in the current directory)")
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false, "Upload the workbook to the s3 bucket")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()
	if exportUpload && a.objects == nil {
		return fmt.Errorf("--upload requires the s3 storage backend")
	}

	recs := a.engine.Records()
	data, err := export.Workbook(recs)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}

	path := exportOutput
	if path == "" {
		path = export.Filename(time.Now())
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("Exported %d records to %s\n", len(recs), path)

	if exportUpload {
		name := "exports/" + filepath.Base(path)
		if err := a.objects.PutObject(ctx, name, data, export.ContentType); err != nil {
			return fmt.Errorf("failed to upload: %w", err)
		}
		fmt.Printf("Uploaded to s3://%s/%s\n", a.objects.Bucket(), name)
	}
	return nil
}
