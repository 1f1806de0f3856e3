package cmd

import (
	"context"
	"fmt"
	"maps"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfenderov/doclens/pkg/models"
)

var (
	recordsFormat string
	recordsType   string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List, show and delete committed records",
	Long: `Work with committed extraction records.

Examples:
  doclens records list
  doclens records list --type INVOICE --format json
  doclens records show 6f1c...
  doclens records delete 6f1c...`,
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List committed records",
	Args:  cobra.NoArgs,
	RunE:  runRecordsList,
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one record with its fields and risk factors",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsShow,
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete committed records",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecordsDelete,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsListCmd, recordsShowCmd, recordsDeleteCmd)

	recordsCmd.PersistentFlags().StringVar(&recordsFormat, "format", "text", "Output format: text or json")
	recordsListCmd.Flags().StringVar(&recordsType, "type", "", "Only records of this document type")
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	recs := a.engine.Records()
	if recordsType != "" {
		t, ok := models.ParseDocumentType(recordsType)
		if !ok {
			return fmt.Errorf("unknown document type %q", recordsType)
		}
		var filtered []*models.ExtractionRecord
		for _, r := range recs {
			if r.Type == t {
				filtered = append(filtered, r)
			}
		}
		recs = filtered
	}

	if recordsFormat == "json" {
		return printJSON(recs)
	}
	if len(recs) == 0 {
		fmt.Println("No records.")
		return nil
	}
	fmt.Printf("%-36s  %-8s  %-10s  %-18s  %s\n", "ID", "TYPE", "RISK", "EXTRACTED", "FILE")
	for _, r := range recs {
		fmt.Printf("%-36s  %-8s  %-10s  %-18s  %s\n",
			r.ID,
			r.Type,
			fmt.Sprintf("%d %s", r.Risk.Score, r.Risk.Level()),
			r.ExtractedAt.Local().Format("2006-01-02 15:04"),
			r.Filename)
	}
	return nil
}

func runRecordsShow(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	rec, ok := a.engine.Record(args[0])
	if !ok {
		return fmt.Errorf("record not found: %s", args[0])
	}
	if recordsFormat == "json" {
		return printJSON(rec)
	}

	fmt.Printf("ID:          %s\n", rec.ID)
	fmt.Printf("File:        %s\n", rec.Filename)
	fmt.Printf("Fingerprint: %s\n", rec.Fingerprint)
	fmt.Printf("Type:        %s (%s confidence)\n", rec.Type, rec.Classification.Confidence)
	fmt.Printf("Risk:        %d/100 (%s)\n", rec.Risk.Score, rec.Risk.Level())
	for _, f := range rec.Risk.Factors {
		fmt.Printf("  +%-3d %s\n", f.Impact, f.Factor)
	}
	fmt.Println("Fields:")
	for _, name := range slices.Sorted(maps.Keys(rec.Fields)) {
		field := rec.Fields[name]
		line := fmt.Sprintf("  %-20s %s", name, field.Value)
		if field.Source != nil && field.Source.Page > 0 {
			line += fmt.Sprintf("  (p. %d)", field.Source.Page)
		}
		fmt.Println(line)
	}
	if len(rec.FieldErrors) > 0 {
		fmt.Println("Warnings:")
		for _, fe := range rec.FieldErrors {
			fmt.Printf("  %s: %s\n", fe.Field, fe.Reason)
		}
	}
	return nil
}

func runRecordsDelete(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	var missing []string
	for _, id := range args {
		ok, err := a.engine.DeleteRecord(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, id)
			continue
		}
		fmt.Printf("Deleted %s\n", id)
	}
	if len(missing) > 0 {
		return fmt.Errorf("records not found: %s", strings.Join(missing, ", "))
	}
	return nil
}
