package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
	"github.com/luckyPipewrench/nodewarden/internal/config"
	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

func checkCmd() *cobra.Command {
	var configFile string
	var remoteFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate config or simulate remote config sanitization",
		Long: `Validate the local config file and optionally run a remote configuration
tree (JSON) through the sanitizer, printing what the agent would actually
apply.

Examples:
  nodewarden check --config /etc/nodewarden/nodewarden.yaml
  nodewarden check --remote-file sample-config.json`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if configFile != "" {
				cfg, err := config.Load(configFile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Config validation FAILED: %v\n", err)
					return err
				}
				fmt.Println("Config validation: OK")
				fmt.Printf("  API URL:     %s\n", cfg.APIURL)
				fmt.Printf("  Token file:  %s\n", cfg.TokenFile)
				fmt.Printf("  Listen:      %s\n", cfg.Listen)
				fmt.Printf("  Queue depth: %d\n", cfg.QueueDepth)
			} else {
				fmt.Println("Using default config (no --config specified)")
			}

			if remoteFile != "" {
				return checkRemoteTree(remoteFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&remoteFile, "remote-file", "", "JSON file with a remote config tree to sanitize")

	return cmd
}

// checkRemoteTree runs a config tree through the validator with decision
// logging to stderr, then prints the effective configuration.
func checkRemoteTree(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return fmt.Errorf("reading remote config %s: %w", path, err)
	}

	var tree remoteconfig.Remote
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("parsing remote config %s: %w", path, err)
	}

	logger, err := audit.New("text", "stdout", "")
	if err != nil {
		return err
	}
	defer logger.Close()

	decisions := 0
	validator := remoteconfig.New(logger, remoteconfig.WithObserver(func(_, _ string) {
		decisions++
	}))
	validated := validator.Validate(tree)

	fmt.Printf("\nSanitization decisions: %d\n", decisions)
	fmt.Printf("Collectors enabled:     %d\n", validated.EnabledCollectors())
	fmt.Println("Effective configuration:")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(validated.Remote())
}
