package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run a turn against the engine",
		Long: `Run one turn, or an interactive conversation, directly against the
engine. With a message argument the turn runs once and the answer is
printed; without one, and on a terminal, an interactive loop starts.
Piped input is read whole and treated as a single message.`,
		Example: `  # One-shot turn in a fresh session
  maestro chat "summarize my spending for the past 7 days"

  # Continue an existing session
  maestro chat -s 4f1c22aa "and compare it to the week before"

  # Interactive conversation
  maestro chat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) > 0 {
				return runOneTurn(ctx, a, sessionID, strings.Join(args, " "))
			}
			if term.IsTerminal(int(os.Stdin.Fd())) {
				return runInteractive(ctx, a, sessionID)
			}
			piped, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text := strings.TrimSpace(string(piped))
			if text == "" {
				return fmt.Errorf("no message given")
			}
			return runOneTurn(ctx, a, sessionID, text)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session ID to continue")
	return cmd
}

func runOneTurn(ctx context.Context, a *app, sessionID, text string) error {
	sessionID, err := resolveSession(ctx, a, sessionID)
	if err != nil {
		return err
	}
	result, err := a.engine.Turn(ctx, sessionID, text)
	if err != nil {
		return err
	}
	fmt.Println(result.Answer)
	fmt.Fprintf(os.Stderr, "session %s  turn cost %s  session total %s\n",
		shortID(sessionID), result.Cost.TurnCost, result.Cost.SessionCumulative)
	return nil
}

func runInteractive(ctx context.Context, a *app, sessionID string) error {
	sessionID, err := resolveSession(ctx, a, sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("maestro session %s  (ctrl-d to exit)\n", shortID(sessionID))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			return nil
		}

		result, err := a.engine.Turn(ctx, sessionID, text)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(result.Answer)
		fmt.Fprintf(os.Stderr, "[%s this turn, %s total]\n",
			result.Cost.TurnCost, result.Cost.SessionCumulative)
	}
}

// resolveSession returns the given session after checking it exists, or
// creates a fresh one when none was named.
func resolveSession(ctx context.Context, a *app, sessionID string) (string, error) {
	if sessionID != "" {
		if _, err := a.store.Get(ctx, sessionID); err != nil {
			return "", err
		}
		return sessionID, nil
	}
	sess, err := a.store.Create(ctx, "")
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
