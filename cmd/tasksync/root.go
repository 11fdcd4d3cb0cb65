package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "tasksync",
		Short:        "Offline-first task store with batched sync to a remote authority",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default $CONFIG_PATH or "+defaultConfigPath+")")

	resolve := func() string { return resolveConfigPath(configPath) }

	root.AddCommand(
		newServeCmd(resolve),
		newSyncCmd(resolve),
		newStatusCmd(resolve),
		newRequeueCmd(resolve),
		newProbeCmd(resolve),
	)
	return root
}

// resolveConfigPath prefers the flag, then CONFIG_PATH, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return defaultConfigPath
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
