package main

import (
	"github.com/leeforge/lifecycle/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configDir string
	mode      string
}

func (o *rootOptions) configOptions() config.Options {
	opts := config.DefaultOptions()
	if o.configDir != "" {
		opts.BasePath = o.configDir
	}
	if o.mode != "" {
		opts.Mode = config.ParseMode(o.mode)
	}
	opts.AllowMissing = true
	return opts
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "plugind",
		Short: "Plugin lifecycle daemon",
		Long: `plugind discovers plugin manifests, loads the bundled plugins they describe
and walks them through their lifecycle, exposing states, running transitions and
metrics over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configDir, "config-dir", "c", "", "directory holding config.yaml (default $CONFIG_PATH or ./config)")
	cmd.PersistentFlags().StringVar(&opts.mode, "mode", "", "environment mode: development, production or test (default $"+config.ModeEnvKey+")")

	cmd.AddCommand(newServeCmd(opts), newValidateCmd(opts))
	return cmd
}
