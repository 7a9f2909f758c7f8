package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"claude-line/internal/certgen"
	"claude-line/internal/config"
)

func newGencertCmd() *cobra.Command {
	var (
		opts certgen.Options
		port int
	)

	cmd := &cobra.Command{
		Use:   "gencert",
		Short: "Generate a self-signed TLS certificate for local network use",
		Long: `Generate a self-signed certificate covering localhost, 127.0.0.1 and this
machine's LAN addresses, so mobile browsers allow microphone access over HTTPS.

Without --ip, the detected non-loopback IPv4 addresses are used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			if len(opts.IPs) == 0 {
				opts.IPs = certgen.LocalIPs()
				if len(opts.IPs) == 0 {
					fmt.Fprintln(out, "No local IP addresses detected.")
				} else {
					fmt.Fprintf(out, "Detected local IP addresses: %s\n", strings.Join(opts.IPs, ", "))
				}
			}

			paths, err := certgen.Generate(opts)
			if err != nil {
				return fmt.Errorf("generating certificate: %w", err)
			}

			certgen.PrintInstructions(out, paths, opts.IPs, port)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.OutputDir, "output-dir", certgen.DefaultOutputDir, "directory to write cert.pem and key.pem into")
	flags.IntVar(&opts.Days, "days", certgen.DefaultDays, "validity period in days")
	flags.StringSliceVar(&opts.IPs, "ip", nil, "IP address to include (repeatable; default: detected addresses)")
	flags.IntVar(&port, "port", config.Defaults().Port, "server port shown in the instructions")

	return cmd
}
