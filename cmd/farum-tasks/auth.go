package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/farum-tasks/internal/adapters/googleauth"
	"github.com/PabloGalante/farum-tasks/internal/adapters/googletasks"
	"github.com/PabloGalante/farum-tasks/internal/config"
)

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to Google Tasks",
		Long: `Run the Google OAuth web flow and cache the token.

Examples:
  farum-tasks auth
  FARUM_GOOGLE_CREDENTIALS=./credentials.json farum-tasks auth`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			oauthCfg, err := googleauth.Config(cfg.Google.CredentialsFile, cfg.Google.AuthPort, googletasks.Scopes...)
			if err != nil {
				return err
			}
			if _, err := googleauth.WebFlow(cmd.Context(), oauthCfg, cfg.Google.TokenFile, cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", cfg.Google.TokenFile)
			return nil
		},
	}
}
