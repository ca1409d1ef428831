package cmd

import (
	"encoding"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/ssbridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing ssbridge configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

You can redirect this output to a file to create a configuration template:

  ssbridge config dump > config.yaml

Configuration can be set via:
  - Config file (./config.yaml, /etc/ssbridge/config.yaml, $HOME/.ssbridge/config.yaml)
  - Environment variables (SSBRIDGE_SERVER_PORT, SSBRIDGE_FETCH_RETRY_ATTEMPTS, etc.)
  - Command-line flags (for some options)

Environment variables use the SSBRIDGE_ prefix and underscores for nesting.
Example: fetch.early_stop_statuses -> SSBRIDGE_FETCH_EARLY_STOP_STATUSES`,
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE:              runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	defaults, err := config.Defaults()
	if err != nil {
		return err
	}

	yamlData, err := yaml.Marshal(toMap(defaults))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# ssbridge configuration file")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# All values shown below are defaults.")
	fmt.Fprintln(out, "# Duration format: 250ms, 30s, 5m")
	fmt.Fprintln(out, "# Size format: 512KB, 64MB")
	fmt.Fprintln(out, "# Status code sets: 404 or 404,410-412")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(yamlData))
	return nil
}

// toMap converts a config struct to a map keyed by its yaml tags, formatting
// durations and text-marshalable values for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.Indirect(reflect.ValueOf(v))
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("yaml")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case encoding.TextMarshaler:
			text, err := fv.MarshalText()
			if err != nil {
				result[key] = fmt.Sprint(fv)
			} else {
				result[key] = string(text)
			}
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}
