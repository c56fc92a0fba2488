// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/daemonrunner/internal/commands/shared"
	"github.com/tombee/daemonrunner/internal/config"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and check configuration",
		Long: `View and check daemonrunner configuration.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  validate - Check the configuration for problems`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(NewValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = runConfigShow

	return cmd
}

// newConfigShowCommand creates the 'config show' subcommand
func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults and environment overrides
are applied.

Tracing header values are masked. Use --json for machine-readable output.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

// newConfigPathCommand creates the 'config path' subcommand
func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Long:  `Display the path to the configuration file.`,
		Args:  cobra.NoArgs,
		RunE:  runConfigPath,
	}
}

// resolvePath returns the config file in use and whether it exists.
func resolvePath() (string, bool, error) {
	cfgPath := shared.GetConfigPath()
	if cfgPath == "" {
		var err error
		cfgPath, err = config.ConfigPath()
		if err != nil {
			return "", false, fmt.Errorf("failed to determine config path: %w", err)
		}
	}
	_, err := os.Stat(cfgPath)
	return cfgPath, err == nil, nil
}

// runConfigShow displays the current configuration
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfgPath, exists, err := resolvePath()
	if err != nil {
		return err
	}

	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return err
	}
	masked := maskSensitiveConfig(cfg)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return outputConfigJSON(out, cfgPath, exists, masked)
	}
	return outputConfigYAML(out, cfgPath, exists, masked)
}

// runConfigPath displays the config file path
func runConfigPath(cmd *cobra.Command, args []string) error {
	cfgPath, _, err := resolvePath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cfgPath)
	return nil
}

// maskSensitiveConfig creates a copy of config with sensitive values masked
func maskSensitiveConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	if len(cfg.Tracing.Headers) > 0 {
		masked.Tracing.Headers = make(map[string]string, len(cfg.Tracing.Headers))
		for k, v := range cfg.Tracing.Headers {
			masked.Tracing.Headers[k] = maskSecret(v)
		}
	}
	return &masked
}

// maskSecret masks a credential for display
func maskSecret(value string) string {
	if value == "" {
		return ""
	}

	// If it's an environment variable reference, don't mask
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return value
	}

	// Show first 4 and last 4 characters
	if len(value) <= 8 {
		return "****"
	}

	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// configResponse is the --json form of config show.
type configResponse struct {
	shared.JSONResponse
	Path   string         `json:"path"`
	Exists bool           `json:"exists"`
	Config map[string]any `json:"config"`
}

// outputConfigJSON converts through YAML so keys and durations match the
// config file format.
func outputConfigJSON(w io.Writer, path string, exists bool, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var fields map[string]any
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return shared.EmitJSON(w, configResponse{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "config show", Success: true},
		Path:         path,
		Exists:       exists,
		Config:       fields,
	})
}

// outputConfigYAML outputs config in YAML format
func outputConfigYAML(w io.Writer, path string, exists bool, cfg *config.Config) error {
	source := path
	if !exists {
		source = path + " (not found, using defaults)"
	}
	fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("Configuration:"), source)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return encoder.Close()
}
