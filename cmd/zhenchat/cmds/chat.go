package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/zhenchat/pkg/events"
	"github.com/go-go-golems/zhenchat/pkg/session"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <session-id>",
		Short: "Chat interactively in a conversation",
		Long: `Chat interactively in a conversation.

Lines starting with a slash are commands:
  /history  reload and print the conversation
  /quit     leave the chat`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			a, err := newApp()
			if err != nil {
				return err
			}
			credential, err := a.credential(cmd.Context())
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			metrics := session.NewMetrics(reg)
			if metricsAddr != "" {
				stop := serveMetrics(metricsAddr, reg)
				defer stop()
			}

			w := cmd.OutOrStdout()
			return runWithPrinter(cmd.Context(), w, false, false,
				func(ctx context.Context, sink events.EventSink) error {
					store := a.newStore(session.WithEventSink(sink), session.WithMetrics(metrics))
					c := &chatLoop{
						id:         args[0],
						credential: credential,
						store:      store,
						out:        w,
					}
					if isatty.IsTerminal(os.Stdin.Fd()) {
						c.ui = &input.UI{
							Writer: os.Stdout,
							Reader: os.Stdin,
						}
					} else {
						c.lines = bufio.NewScanner(os.Stdin)
					}
					return c.run(ctx)
				})
		},
	}

	cmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address while chatting")
	return cmd
}

type chatLoop struct {
	id         string
	credential string
	store      *session.Store
	out        io.Writer

	// ui prompts on a terminal, lines reads piped input
	ui    *input.UI
	lines *bufio.Scanner
}

// errNoMoreInput ends the chat when piped input is exhausted.
var errNoMoreInput = errors.New("no more input")

func (c *chatLoop) readLine() (string, error) {
	if c.ui == nil {
		for c.lines.Scan() {
			if line := strings.TrimSpace(c.lines.Text()); line != "" {
				return line, nil
			}
		}
		if err := c.lines.Err(); err != nil {
			return "", errors.Wrap(err, "reading input")
		}
		return "", errNoMoreInput
	}

	return c.ui.Ask("\n>", &input.Options{
		Required:  true,
		Loop:      true,
		HideOrder: true,
		ValidateFunc: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("please enter a message")
			}
			return nil
		},
	})
}

func (c *chatLoop) run(ctx context.Context) error {
	if err := c.printHistory(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := c.readLine()
		if err != nil {
			if errors.Is(err, input.ErrInterrupted) || errors.Is(err, errNoMoreInput) {
				return nil
			}
			return err
		}

		switch strings.TrimSpace(line) {
		case "/quit", "/exit":
			return nil
		case "/history":
			if err := c.printHistory(ctx); err != nil {
				return err
			}
			continue
		}

		if err := sendOne(ctx, c.store, c.id, line, c.credential); err != nil {
			if errors.Is(err, ErrAnswerFailed) {
				// the fallback answer was printed already
				continue
			}
			return err
		}
	}
}

func (c *chatLoop) printHistory(ctx context.Context) error {
	if err := c.store.LoadHistory(ctx, c.id); err != nil {
		return err
	}
	snap, _ := c.store.Snapshot(c.id)
	for _, m := range snap.Messages {
		_, _ = fmt.Fprintf(c.out, "[%s] %s\n", m.Role, m.Content)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
