package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vkmedia/internal/domain"
	"vkmedia/internal/infra/config"
)

const defaultConfigPath = "./vkmedia.yaml"

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "vkmedia",
		Short: "Upload media to the VK API and print attachment ids",
		Long: `vkmedia uploads photos, documents, chat photos, group covers and album
photos through the VK API upload flow and prints the resulting attachment id
or raw save response.

Configuration is read from a YAML file; VKMEDIA_* environment variables
override it. Set VKMEDIA_CONFIG_KEY to decrypt "enc:" secrets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file path")

	cmd.AddCommand(
		newUploadCommand(opts),
		newBatchCommand(opts),
		newConfigCommand(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	return cfg, nil
}
