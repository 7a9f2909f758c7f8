package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claude-line/internal/config"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	var envFile string

	cmd := &cobra.Command{
		Use:   "claude-line",
		Short: "Talk to Claude Code from your phone",
		Long: `claude-line serves a mobile web UI that records speech, transcribes it,
optionally cleans it up, and runs the result through the claude CLI in the
configured project directory, streaming the answer back to the phone.

Settings come from defaults, a .env file, environment variables and flags,
in increasing order of precedence.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(v, envFile)
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}
			return serve(cmd.Context(), settings, cmd.ErrOrStderr())
		},
	}

	d := config.Defaults()
	flags := cmd.Flags()
	flags.String("host", d.Host, "address to bind")
	flags.Int("port", d.Port, "port to listen on")
	flags.String("ssl-certfile", "", "TLS certificate file (enables HTTPS with --ssl-keyfile)")
	flags.String("ssl-keyfile", "", "TLS private key file")
	flags.StringVar(&envFile, "env-file", "", "dotenv file to read (default: .env if present)")

	_ = v.BindPFlag("host", flags.Lookup("host"))
	_ = v.BindPFlag("port", flags.Lookup("port"))
	_ = v.BindPFlag("ssl_certfile", flags.Lookup("ssl-certfile"))
	_ = v.BindPFlag("ssl_keyfile", flags.Lookup("ssl-keyfile"))

	cmd.AddCommand(newGencertCmd())
	return cmd
}
