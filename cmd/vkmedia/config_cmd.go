package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vkmedia/internal/infra/config"
)

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and prepare configuration",
	}
	cmd.AddCommand(newConfigEncryptCommand(), newConfigCheckCommand(root))
	return cmd
}

func newConfigEncryptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for use as an enc: config value",
		Long: `Encrypt a secret with the passphrase in VKMEDIA_CONFIG_KEY. The value is
read from the argument or, when absent, from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv(config.EnvPrefix + "CONFIG_KEY")
			if passphrase == "" {
				return fmt.Errorf("%sCONFIG_KEY is not set", config.EnvPrefix)
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read value: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return errors.New("nothing to encrypt")
			}

			enc, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enc:%s\n", enc)
			return err
		},
	}
}

func newConfigCheckCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			token := "missing"
			if cfg.API.Token != "" {
				token = "set"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok: api %s v%s, token %s, group %d\n",
				cfg.API.BaseURL, cfg.API.Version, token, cfg.API.GroupID)
			return err
		},
	}
}
