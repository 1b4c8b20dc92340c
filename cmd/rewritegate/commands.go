package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ineyio/rewritegate"
)

func newRewriteCmd(get func() *app, flags *globalFlags) *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:   "rewrite [text...]",
		Short: "Rewrite text given as arguments or on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp(get)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if text == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}

			reply, err := a.dispatcher.HandleMessage(cmd.Context(), rewritegate.InboundMessage{
				ExternalID:  flags.externalID,
				DisplayName: flags.displayName,
				Text:        text,
			})
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, reply.Text)
			if details {
				printDetails(out, reply)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&details, "details", false, "print provider, model and token usage")
	return cmd
}

func newWhoamiCmd(get func() *app, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the selected model and remaining token balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := requireApp(get)
			if err != nil {
				return err
			}
			summary, err := a.dispatcher.AccountSummary(cmd.Context(), flags.externalID)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func newUseCmd(get func() *app, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "use <provider> <model>",
		Short: "Select the provider and model used for rewrites",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp(get)
			if err != nil {
				return err
			}
			summary, err := a.dispatcher.ConfigureModel(cmd.Context(), flags.externalID,
				rewritegate.ProviderName(args[0]), rewritegate.ModelName(args[1]))
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List selectable provider/model pairs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			printModels(cmd.OutOrStdout())
			return nil
		},
	}
}

func newMigrateCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the account tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := requireApp(get)
			if err != nil {
				return err
			}
			if err := a.store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newExemptCmd(get func() *app, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exempt <true|false>",
		Short: "Exempt the user from the token quota, or revoke the exemption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp(get)
			if err != nil {
				return err
			}
			exempt, err := strconv.ParseBool(args[0])
			if err != nil {
				return fmt.Errorf("invalid exemption flag %q: %w", args[0], err)
			}
			acc, err := a.store.SetExempt(cmd.Context(), flags.externalID, exempt)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), acc.Summary())
			return nil
		},
	}
}

func newTopupCmd(get func() *app, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "topup <balance>",
		Short: "Set the user's token balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp(get)
			if err != nil {
				return err
			}
			balance, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid balance %q: %w", args[0], err)
			}
			acc, err := a.store.SetBalance(cmd.Context(), flags.externalID, balance)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), acc.Summary())
			return nil
		},
	}
}

func printDetails(w io.Writer, r rewritegate.Reply) {
	fmt.Fprintf(w, "\nProvider: %s\nModel: %s\nTotal Tokens Used: %d\nBalance: %d\n",
		r.Provider, r.Model, r.TokensUsed, r.Balance)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	return table
}

func printSummary(w io.Writer, s rewritegate.AccountSummary) {
	table := newTable(w, "Provider", "Model", "Balance", "Exempt")
	table.Append([]string{
		string(s.Provider),
		string(s.Model),
		strconv.FormatInt(s.TokenBalance, 10),
		strconv.FormatBool(s.Exempt),
	})
	table.Render()
}

func printModels(w io.Writer) {
	table := newTable(w, "Provider", "Model", "Credential")
	for _, p := range rewritegate.Providers() {
		for _, m := range rewritegate.ModelsFor(p) {
			table.Append([]string{string(p), string(m), rewritegate.CredentialKey(p)})
		}
	}
	table.Render()
}
