package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/booking"
	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/config"
	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/conversation"
	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/identity"
	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/localstore"
	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/session"
	"github.com/shreyans-padmani/whatsapp-ai-assistant/internal/tui"
)

func main() {
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Terminal client for the restaurant booking assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTUI,
	}
	root.AddCommand(&cobra.Command{
		Use:   "send [message]",
		Short: "Send a single message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSend,
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	client  *booking.Client
	ctrl    *session.Controller
	history []conversation.Message
}

func bootstrap() (*app, error) {
	envMissing := godotenv.Load(".env") != nil

	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)
	if envMissing {
		logger.Debug().Msg(".env file not found; using process environment")
	}

	// the TUI owns stdout, so a broken state dir degrades to an
	// in-memory session instead of aborting
	var (
		idKV   identity.KV
		histKV conversation.KV
	)
	if st, err := localstore.New(cfg.DataDir); err != nil {
		logger.Warn().Err(err).Msg("device storage unavailable; session will not persist")
	} else {
		idKV, histKV = st, st
	}

	userID := identity.New(idKV, logger).GetOrCreateUserID()
	store := conversation.NewStore(histKV, logger)
	history := store.Load()
	client := booking.NewClient(cfg.BackendBaseURL, cfg.RequestTimeout, logger)

	ctrl := session.New(session.Params{
		Store:        store,
		Transport:    client,
		RestaurantID: cfg.RestaurantID,
		StoreID:      cfg.StoreID,
		UserID:       userID,
		Logger:       logger,
	})

	logger.Info().
		Str("user_id", userID).
		Str("backend", cfg.BackendBaseURL).
		Int("history", len(history)).
		Msg("session ready")

	return &app{cfg: cfg, log: logger, client: client, ctrl: ctrl, history: history}, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w io.Writer = io.Discard
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				w = f
			}
		}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func runTUI(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}

	notice := ""
	probeCtx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	if err := a.client.Health(probeCtx); err != nil {
		a.log.Warn().Err(err).Msg("backend health probe failed")
		notice = "Backend is not reachable right now; messages will fail until it is back."
	}
	cancel()

	p := tea.NewProgram(tui.New(a.ctrl, a.history, notice), tea.WithAltScreen())
	a.ctrl.SetListener(tui.NewRelay(p))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}

	w := &replyWaiter{replies: make(chan conversation.Message, 1)}
	a.ctrl.SetListener(w)

	text := strings.Join(args, " ")
	if !a.ctrl.Submit(cmd.Context(), text) {
		return fmt.Errorf("nothing to send")
	}

	select {
	case reply := <-w.replies:
		fmt.Println(reply.Content)
		if reply.Content == session.ErrorReply {
			return fmt.Errorf("send failed; see %s", a.cfg.LogFile)
		}
		return nil
	case <-time.After(a.cfg.RequestTimeout + 5*time.Second):
		return fmt.Errorf("timed out waiting for a reply")
	}
}

// replyWaiter is the one-shot stand-in for the interactive view: it
// only cares about the assistant's next message.
type replyWaiter struct {
	replies chan conversation.Message
}

func (w *replyWaiter) MessageAppended(msg conversation.Message) {
	if msg.Role == conversation.RoleAssistant {
		select {
		case w.replies <- msg:
		default:
		}
	}
}

func (w *replyWaiter) StatusChanged(session.Status) {}
