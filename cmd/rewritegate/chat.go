package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ineyio/rewritegate"
)

func newChatCmd(get func() *app, flags *globalFlags) *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session: every line is one rewrite request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := requireApp(get)
			if err != nil {
				return err
			}
			return runChat(cmd, a, flags, details)
		},
	}

	cmd.Flags().BoolVar(&details, "details", false, "print provider, model and token usage after each rewrite")
	return cmd
}

func runChat(cmd *cobra.Command, a *app, flags *globalFlags, details bool) error {
	ctx := cmd.Context()

	rl, err := readline.NewEx(&readline.Config{
		Prompt: "> ",
		Stdout: cmd.OutOrStdout(),
	})
	if err != nil {
		return fmt.Errorf("could not create readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintln(out, "Type text to rewrite. Commands: /start /whoami /models /use <provider> <model> /details /quit")

	for {
		line, err := rl.Readline()
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			fields := strings.Fields(line)
			switch fields[0] {
			case "/quit", "/exit":
				return nil
			case "/start":
				fmt.Fprintln(out, rewritegate.Greeting)
			case "/details":
				details = !details
				fmt.Fprintf(out, "details: %t\n", details)
			case "/models":
				printModels(out)
			case "/whoami":
				summary, err := a.dispatcher.AccountSummary(ctx, flags.externalID)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				printSummary(out, summary)
			case "/use":
				if len(fields) != 3 {
					fmt.Fprintln(out, "usage: /use <provider> <model>")
					continue
				}
				summary, err := a.dispatcher.ConfigureModel(ctx, flags.externalID,
					rewritegate.ProviderName(fields[1]), rewritegate.ModelName(fields[2]))
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				printSummary(out, summary)
			default:
				fmt.Fprintf(out, "unknown command %s\n", fields[0])
			}
			continue
		}

		reply, _ := a.dispatcher.HandleMessage(ctx, rewritegate.InboundMessage{
			ExternalID:  flags.externalID,
			DisplayName: flags.displayName,
			Text:        line,
		})
		fmt.Fprintln(out, reply.Text)
		if details && reply.Outcome == rewritegate.OutcomeCompleted {
			printDetails(out, reply)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}
