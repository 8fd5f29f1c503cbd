package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"supportchat/internal/app"
	"supportchat/internal/hub"
	"supportchat/internal/session"
	"supportchat/pkg/types"
)

type chatOptions struct {
	sessionID string
	formID    string
	userID    string
	noPush    bool
}

func newChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive conversation",
		Long: `Open a conversation and read messages from stdin, one per line.

Commands:
  /older          load older history
  /retry <id>     resend a failed message
  /end [reason]   end the conversation
  /quit           leave without ending the conversation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.sessionID, "session", "", "resume an existing session")
	cmd.Flags().StringVar(&opts.formID, "form", "", "intake form for a new conversation")
	cmd.Flags().StringVar(&opts.userID, "user", "", "current user id")
	cmd.Flags().BoolVar(&opts.noPush, "no-push", false, "disable the push connection and rely on polling")
	cmd.MarkFlagsMutuallyExclusive("session", "form")
	return cmd
}

func runChat(cmd *cobra.Command, opts chatOptions) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	if opts.noPush {
		cfg.Push.URL = ""
	}

	stopMetrics := startMetrics(cfg.Metrics.Addr, log)
	defer stopMetrics()

	application, err := app.NewApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = application.Stop(shutdownCtx)
	}()
	application.SetCurrentUserID(opts.userID)

	var conv *app.Conversation
	if opts.sessionID != "" {
		conv, err = application.OpenSession(ctx, opts.sessionID)
	} else {
		conv, err = application.OpenConversation(opts.formID)
	}
	if err != nil {
		return err
	}

	t := newTranscript(cmd.OutOrStdout(), conv)
	if _, err := application.AddListener(t.listener()); err != nil {
		return err
	}

	if conv.SessionID() != "" {
		if err := conv.FetchLatest(ctx); err != nil {
			t.printf("! %v\n", err)
		}
		if err := conv.Typing.StartListening(); err != nil {
			t.printf("! %v\n", err)
		}
	}
	t.flush()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				conv.Wait()
				t.flush()
				return nil
			}
			if quit := handleLine(ctx, conv, t, strings.TrimSpace(line)); quit {
				conv.Wait()
				t.flush()
				return nil
			}
		}
	}
}

// handleLine runs one line of input and reports whether to leave.
func handleLine(ctx context.Context, conv *app.Conversation, t *transcript, line string) bool {
	command, rest, _ := strings.Cut(line, " ")
	switch command {
	case "":
		return false

	case "/quit":
		return true

	case "/older":
		if err := conv.FetchOlder(ctx); err != nil {
			t.printf("! %v\n", err)
		}
		return false

	case "/retry":
		if err := conv.Resend(ctx, strings.TrimSpace(rest)); err != nil {
			t.printf("! %v\n", err)
		}
		return false

	case "/end":
		done := make(chan bool, 1)
		conv.EndChat(ctx, strings.TrimSpace(rest), func(success bool) { done <- success })
		select {
		case success := <-done:
			if !success {
				t.printf("! conversation could not be ended\n")
				return false
			}
			t.printf("* conversation ended\n")
		case <-ctx.Done():
		}
		return true
	}

	if conv.IsChatClosed() {
		t.printf("! conversation is closed\n")
		return false
	}

	value := ""
	q := conv.CurrentQuestion()
	if q.Blocking() {
		value = line
	}

	conv.Typing.SendTypingStatus(types.TypingActive)
	if _, err := conv.SendMessage(ctx, line, nil, value); err != nil {
		if errors.Is(err, session.ErrAnswerRequired) && q != nil {
			t.printf("! choose one of: %s\n", strings.Join(q.Options, ", "))
		} else {
			t.printf("! %v\n", err)
		}
	}
	conv.Typing.SendTypingStatus(types.TypingPaused)
	return false
}

// transcript prints each message once per delivery status.
type transcript struct {
	mu   sync.Mutex
	out  io.Writer
	conv *app.Conversation
	seen map[string]types.DeliveryStatus
}

func newTranscript(out io.Writer, conv *app.Conversation) *transcript {
	return &transcript{out: out, conv: conv, seen: make(map[string]types.DeliveryStatus)}
}

func (t *transcript) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *transcript) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range t.conv.Messages() {
		if status, ok := t.seen[msg.ID]; ok && status == msg.Status {
			continue
		}
		t.seen[msg.ID] = msg.Status

		who := msg.SenderType
		if msg.ByCurrentUser() {
			who = "you"
		}
		fmt.Fprintf(t.out, "[%s] %s: %s (%s)\n", msg.Status, who, msg.Body, msg.ID)
		if msg.Question != nil && len(msg.Question.Options) > 0 {
			fmt.Fprintf(t.out, "    options: %s\n", strings.Join(msg.Question.Options, ", "))
		}
	}
}

func (t *transcript) listener() *hub.ListenerFuncs {
	return &hub.ListenerFuncs{
		ContentChange: func(string) { t.flush() },
		Error: func(_ string, err error) {
			t.printf("! %v\n", err)
		},
		SessionCreated: func(id string) {
			t.printf("* session %s created\n", id)
		},
		TypingUpdate: func(_ string, ind types.TypingIndicator) {
			if ind.Status == types.TypingActive {
				t.printf("* %s is typing...\n", ind.UserID)
			}
		},
		ChatEnded: func(string) {
			t.printf("* chat ended\n")
		},
		SatisfactionFormFetched: func(string) {
			if t.conv.ShouldShowSatisfactionForm() {
				t.printf("* please rate this conversation\n")
			}
		},
	}
}
