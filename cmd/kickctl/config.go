package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/danmuck/kickctl/internal/config"
	"github.com/spf13/cobra"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write or validate kickctl config files",
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a starter config; format follows the file extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if err := config.WriteTemplate(path, format, configInitForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", format, path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load --config plus environment and report whether it is runnable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd, configValidateCmd)
}
