package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cecil-the-coder/docqa-stream/pkg/streaming"
	"github.com/cecil-the-coder/docqa-stream/pkg/types"
)

const askLongDesc string = `Ask a question and print the answer as it streams in.

Tokens are written to stdout as they arrive. Ctrl-C stops the stream and
exits with status 130.

Examples:
  kbchat ask "What does the warranty cover?" --kb manuals
  kbchat ask --base-url https://qa.example.com/api/v1 "Summarize chapter 2"`

type askCommander struct {
	knowledgeBases []string
	baseURL        string
}

// NewAskCmd builds the ask command.
func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and stream the answer",
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return cmder.run(ctx, s, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&cmder.knowledgeBases, "kb", nil, "knowledge base to search (repeatable)")
	cmd.Flags().StringVar(&cmder.baseURL, "base-url", "", "API root, e.g. https://qa.example.com/api/v1")

	return cmd
}

// responseLogger logs the response line of every stream at debug level.
type responseLogger struct {
	logger *log.Logger
}

func (r responseLogger) Intercept(resp *http.Response) error {
	r.logger.WithFields(log.Fields{
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
	}).Debug("stream response")
	return nil
}

// run streams one answer to out. Cancelling ctx aborts the stream and
// yields an exitError with status 130.
func (c *askCommander) run(ctx context.Context, s *settings, question string, out io.Writer) error {
	client, err := streaming.NewStreamClient(s.cfg,
		streaming.WithLogger(s.logger),
		streaming.WithResponseInterceptor(responseLogger{logger: s.logger}),
	)
	if err != nil {
		return err
	}

	req := types.ChatRequest{Message: question}
	if len(c.knowledgeBases) > 0 {
		req.KnowledgeBaseID = c.knowledgeBases[0]
		req.KnowledgeBaseIDs = c.knowledgeBases
	}

	var streamErr string
	session, err := client.Start(context.Background(), req, streaming.Handler{
		OnMessage: func(text string) {
			_, _ = io.WriteString(out, text)
		},
		OnDone: func() {
			_, _ = io.WriteString(out, "\n")
		},
		OnError: func(message string) {
			streamErr = message
		},
	})
	if err != nil {
		return err
	}

	select {
	case <-session.Done():
	case <-ctx.Done():
		session.Abort()
		<-session.Done()
	}

	switch session.Outcome() {
	case streaming.OutcomeAborted:
		return &exitError{code: exitInterrupted}
	case streaming.OutcomeFailed:
		if streamErr == "" {
			return errors.New("stream failed")
		}
		return errors.New(streamErr)
	}
	return nil
}
