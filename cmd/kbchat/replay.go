package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cecil-the-coder/docqa-stream/pkg/streaming/decoders"
)

// sniffSize is how much of a replay file is inspected to detect its format.
const sniffSize = 512

// NewReplayCmd builds the replay command.
func NewReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file>",
		Short: "Decode a captured event stream and print its events",
		Long: `Decode a file holding a captured answer stream and print one line per
event as "type<TAB>data". Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening capture: %w", err)
				}
				defer f.Close() //nolint:errcheck // read-only
				in = f
			}

			br := bufio.NewReader(in)
			head, _ := br.Peek(sniffSize)
			if decoders.DetectFromBytes(head) != decoders.StreamFormatSSE {
				s.logger.WithField("file", args[0]).Debug("capture does not look like an event stream")
				color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), "warning: input does not look like an event stream")
			}

			return replay(decoders.NewSSEDecoder(), br, cmd.OutOrStdout())
		},
	}
}

// replay writes every labeled event dec reads from r to out, including
// events after a terminal one, since a capture is inspected rather than
// consumed.
func replay(dec decoders.FrameReader, r io.Reader, out io.Writer) error {
	for {
		frame, err := dec.Decode(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\n", frame.Type, frame.Data); err != nil {
			return err
		}
	}
}
