package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/vidscope/am"
	"github.com/teranos/vidscope/errors"
)

// AmCmd groups configuration commands
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and edit vidscope configuration",
	Long: `am: vidscope configuration

Configuration is merged from defaults, ~/.vidscope/am.toml, the project
am.toml and VIDSCOPE_* environment variables.

Examples:
  vidscope am show                          # Effective config as TOML
  vidscope am show --format json
  vidscope am set heatmap.noise_floor 40    # Picked up live by a running server
  vidscope am validate`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runAmShow,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a runtime-adjustable configuration key",
	Args:  cobra.ExactArgs(2),
	RunE:  runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE:  runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVarP(&configFormat, "format", "f", "toml", "Output format: toml, json, yaml")
	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	out := cmd.OutOrStdout()

	switch configFormat {
	case "toml":
		fmt.Fprintln(out, "# vidscope effective configuration")
		return am.WriteEffective(out)
	case "json":
		data, err := json.MarshalIndent(am.GetViper().AllSettings(), "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(am.GetViper().AllSettings())
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# vidscope effective configuration\n%s", data)
	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	path := am.FindProjectConfig()
	if path == "" {
		path = filepath.Join(am.UserConfigDir(), "am.toml")
	}
	if err := am.SetValue(path, key, parseValue(raw)); err != nil {
		return err
	}

	// reload so an invalid value is reported now rather than at the next serve
	am.Reset()
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "config no longer loads")
	}
	if err := cfg.Validate(); err != nil {
		pterm.Warning.Printf("%s was written but the config is now invalid: %v\n", key, err)
		return err
	}

	pterm.Success.Printf("%s = %s (%s)\n", key, raw, path)
	return nil
}

// parseValue keeps TOML types: ints, floats and bools are not written as strings
func parseValue(raw string) interface{} {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	if path := am.FindProjectConfig(); path != "" {
		pterm.Info.Printf("Project config: %s\n", path)
	} else if _, err := os.Stat(filepath.Join(am.UserConfigDir(), "am.toml")); err != nil {
		pterm.Info.Println("No config file found, using defaults")
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}
