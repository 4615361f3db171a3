package cmds

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/zhenchat/pkg/conversation"
	"github.com/go-go-golems/zhenchat/pkg/events"
	"github.com/go-go-golems/zhenchat/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const chatTopic = "chat"

var ErrAnswerFailed = errors.New("the answer could not be streamed")

func NewSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <session-id> <text>...",
		Short: "Send a message and stream the answer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetBool("raw-events")
			verbose, _ := cmd.Flags().GetBool("verbose")
			loadHistory, _ := cmd.Flags().GetBool("load-history")

			a, err := newApp()
			if err != nil {
				return err
			}
			credential, err := a.credential(cmd.Context())
			if err != nil {
				return err
			}

			return runWithPrinter(cmd.Context(), cmd.OutOrStdout(), raw, verbose,
				func(ctx context.Context, sink events.EventSink) error {
					store := a.newStore(session.WithEventSink(sink))
					id := args[0]
					if loadHistory {
						if err := store.LoadHistory(ctx, id); err != nil {
							return err
						}
					}
					return sendOne(ctx, store, id, strings.Join(args[1:], " "), credential)
				})
		},
	}

	cmd.Flags().Bool("raw-events", false, "Print the store events as JSON instead of text")
	cmd.Flags().Bool("verbose", false, "Include event metadata and watermill logs")
	cmd.Flags().Bool("load-history", false, "Load the conversation history before sending")
	return cmd
}

// runWithPrinter runs f next to an event router that renders the events f
// publishes to the sink it is given. The router is closed once f returns.
func runWithPrinter(
	ctx context.Context,
	w io.Writer,
	raw bool,
	verbose bool,
	f func(ctx context.Context, sink events.EventSink) error,
) error {
	router, err := events.NewEventRouter(events.WithVerbose(verbose))
	if err != nil {
		return err
	}
	if raw {
		router.AddHandler("raw", chatTopic, router.DumpRawEvents(w))
	} else {
		router.AddHandler("printer", chatTopic, events.StepPrinterFunc("", w))
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer func() {
			_ = router.Close()
		}()
		select {
		case <-router.Running():
		case <-ctx.Done():
			return ctx.Err()
		}
		return f(ctx, router.Sink(chatTopic))
	})

	return eg.Wait()
}

func sendOne(ctx context.Context, store *session.Store, id string, text string, credential string) error {
	exec, err := store.Start(ctx, id, text, credential)
	if err != nil {
		return err
	}
	outcome, err := exec.Wait()
	switch outcome {
	case conversation.OutcomeFailure:
		log.Debug().Err(err).Str("conversation_id", id).Msg("Answer failed")
		return ErrAnswerFailed
	case conversation.OutcomeCancelled:
		return context.Canceled
	case conversation.OutcomeSuccess:
	}
	return nil
}
