package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// StepPrinterFunc returns a watermill handler that renders store events as
// plain text: deltas are written as they arrive, the thinking status is shown
// on its own line, and a failed answer prints its fallback text.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true
	lastThinking := ""

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventSendStarted:
			isFirst = true
			lastThinking = ""

		case *EventThinking:
			if p_.Message == lastThinking {
				return nil
			}
			lastThinking = p_.Message
			_, err = fmt.Fprintf(w, "[%s]\n", p_.Message)
			if err != nil {
				return err
			}

		case *EventContentDelta:
			if isFirst && name != "" {
				isFirst = false
				_, err = fmt.Fprintf(w, "\n%s: \n", name)
				if err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(w, "%s", p_.Delta)
			if err != nil {
				return err
			}

		case *EventFinalized:
			text := p_.Content
			if p_.Outcome == "failure" {
				_, err = fmt.Fprintf(w, "\n%s", text)
				if err != nil {
					return err
				}
			}
			if !strings.HasSuffix(text, "\n") {
				_, err = fmt.Fprintf(w, "\n")
				if err != nil {
					return err
				}
			}

		case *EventSendRejected:
			_, err = fmt.Fprintf(w, "(not sent: %s)\n", p_.Reason)
			if err != nil {
				return err
			}

		case *EventHistoryLoaded:
		}

		return nil
	}
}
