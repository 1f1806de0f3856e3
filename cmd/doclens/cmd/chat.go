package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfenderov/doclens/internal/chat"
	"github.com/mfenderov/doclens/internal/ingestion"
	"github.com/mfenderov/doclens/pkg/models"
)

var (
	chatQuestions []string
	chatExcerpts  bool
	chatFormat    string
)

var chatCmd = &cobra.Command{
	Use:   "chat <file|record-id|fingerprint>",
	Short: "Ask questions about a document",
	Long: `Open a chat session over one document and answer questions from its text.

The document can be a file (extracted first if needed), the ID of a committed
record, or a document fingerprint. Without --question, questions are read
from stdin one per line.

Examples:
  # Interactive
  doclens chat lease.pdf

  # One-shot
  doclens chat lease.pdf -q "When does the lease end?" -q "Who pays utilities?"`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringArrayVarP(&chatQuestions, "question", "q", nil, "Question to ask (repeatable)")
	chatCmd.Flags().BoolVar(&chatExcerpts, "excerpts", false, "Print the excerpts each answer is based on")
	chatCmd.Flags().StringVar(&chatFormat, "format", "text", "Output format: text or json")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireChat(); err != nil {
		return err
	}

	fp, err := resolveDocument(ctx, a, args[0])
	if err != nil {
		return err
	}

	id, err := a.chat.Open(ctx, fp)
	if err != nil {
		if errors.Is(err, chat.ErrDocumentNotCached) {
			return fmt.Errorf("%s has not been extracted: run 'doclens extract' first", fp.Short())
		}
		return fmt.Errorf("failed to open chat: %w", err)
	}
	defer a.chat.Close(context.WithoutCancel(ctx), id)

	if len(chatQuestions) > 0 {
		for _, q := range chatQuestions {
			if err := askAndPrint(ctx, a.chat, id, q); err != nil {
				return err
			}
		}
		return nil
	}

	info, _ := a.chat.Session(id)
	fmt.Fprintf(cmd.ErrOrStderr(), "Chatting with %s (%d chunks). Empty line or Ctrl+D to quit.\n", info.Filename, info.Chunks)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(cmd.ErrOrStderr(), "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			return nil
		}
		if err := askAndPrint(ctx, a.chat, id, q); err != nil {
			if errors.Is(err, chat.ErrServiceUnavailable) {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %v, try again\n", err)
				continue
			}
			return err
		}
	}
}

func askAndPrint(ctx context.Context, m *chat.Manager, id, question string) error {
	answer, err := m.Ask(ctx, id, question)
	if err != nil {
		return err
	}
	if chatFormat == "json" {
		return printJSON(answer)
	}
	fmt.Printf("\n%s\n\n", answer.Text)
	if chatExcerpts {
		for i, e := range answer.Excerpts {
			fmt.Printf("─── Excerpt %d ───\n%s\n\n", i+1, truncateText(e, 500))
		}
	}
	return nil
}

// resolveDocument maps a file, record ID or fingerprint to a fingerprint.
// Files not seen before are extracted so their parsed text is cached.
func resolveDocument(ctx context.Context, a *app, arg string) (models.Fingerprint, error) {
	if rec, ok := a.engine.Record(arg); ok {
		return rec.Fingerprint, nil
	}
	if data, err := os.ReadFile(arg); err == nil {
		fp := models.FingerprintOf(data)
		if _, err := a.engine.Cache().Document(ctx, fp); err == nil {
			return fp, nil
		}
		// a rejected duplicate still leaves the parsed document cached
		if _, err := a.engine.ExtractFromBytes(ctx, data, filepath.Base(arg), ingestion.Options{}); err != nil {
			return "", extractionError(err)
		}
		return fp, nil
	}
	return models.Fingerprint(arg), nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
