package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/campusagent/stream"
)

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	if len(args) > 0 {
		return printFrames(out, errOut, rt.Open(ctx, chatID, strings.Join(args, " ")).Frames)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(errOut, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			rt.Clear(chatID)
			fmt.Fprintln(errOut, "conversation cleared")
			continue
		}
		if err := printFrames(out, errOut, rt.Open(ctx, chatID, line).Frames); err != nil {
			fmt.Fprintln(errOut, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// printFrames writes chunks to out as they arrive and progress lines to errOut.
// An error frame is returned as an error.
func printFrames(out, errOut io.Writer, frames <-chan stream.Frame) error {
	var failure error
	for f := range frames {
		switch f.Kind {
		case stream.KindProgress:
			fmt.Fprintf(errOut, "... %s\n", f.Text)
		case stream.KindChunk:
			fmt.Fprint(out, f.Text)
		case stream.KindError:
			failure = fmt.Errorf("chat failed: %s", f.Text)
		case stream.KindDone:
			fmt.Fprintln(out)
		}
	}
	return failure
}
