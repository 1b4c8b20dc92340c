package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configFile  string
	externalID  int64
	displayName string
}

func newRootCmd() *cobra.Command {
	var (
		flags globalFlags
		a     *app
	)

	root := &cobra.Command{
		Use:   "rewritegate",
		Short: "Rewrite text with a metered LLM gateway",
		Long: `rewritegate relays text to a language model for rewriting into clear,
concise English. Each user has a token balance that is checked before and
debited after every rewrite.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "models" {
				return nil
			}
			cfg, err := loadConfig(flags.configFile)
			if err != nil {
				return err
			}
			a, err = newApp(cmd.Context(), cfg)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a == nil {
				return nil
			}
			return a.close(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file path (env REWRITEGATE_CONFIG)")
	root.PersistentFlags().Int64VarP(&flags.externalID, "user", "u", 1, "external user id to act as")
	root.PersistentFlags().StringVar(&flags.displayName, "name", "", "display name recorded on first contact")

	getApp := func() *app { return a }

	root.AddCommand(
		newRewriteCmd(getApp, &flags),
		newChatCmd(getApp, &flags),
		newWhoamiCmd(getApp, &flags),
		newUseCmd(getApp, &flags),
		newModelsCmd(),
		newMigrateCmd(getApp),
		newExemptCmd(getApp, &flags),
		newTopupCmd(getApp, &flags),
	)

	return root
}

func requireApp(get func() *app) (*app, error) {
	a := get()
	if a == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return a, nil
}
