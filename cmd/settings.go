package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and write system settings",
}

var settingsSetCmd = &cobra.Command{
	Use:   "set KEY JSON",
	Short: "Store a JSON value under KEY",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		value := json.RawMessage(args[1])
		if !json.Valid(value) {
			return eris.Errorf("settings: value for %s is not valid JSON", args[0])
		}

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Store.PutSetting(ctx, args[0], value)
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print the JSON value stored under KEY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		v, err := env.Store.GetSetting(ctx, args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(v))
		return err
	},
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd, settingsGetCmd)
	rootCmd.AddCommand(settingsCmd)
}
