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
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/daemonrunner/internal/commands/shared"
	"github.com/tombee/daemonrunner/internal/config"
)

// ValidationResult holds the results of config validation
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the config validate command
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration and check it against this host.

Checks performed:
  - YAML syntax and field values
  - The working directory exists
  - The pid file directory is not world-writable without the sticky bit
  - The metrics address is a host:port pair

With --strict, warnings are treated as errors.`,
		Example: `  # Validate configuration
  daemonrunner config validate

  # Validate with warnings as errors
  daemonrunner config validate --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(w io.Writer, strict bool) error {
	cfgPath, _, err := resolvePath()
	if err != nil {
		return err
	}

	result := ValidationResult{Path: cfgPath}
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else {
		result = validateConfig(cfg, cfgPath)
	}
	result.Valid = len(result.Errors) == 0

	if err := outputValidationResult(w, result); err != nil {
		return err
	}

	if !result.Valid {
		return &shared.ExitError{Code: shared.ExitConfig, Message: "configuration is invalid"}
	}
	if strict && len(result.Warnings) > 0 {
		return &shared.ExitError{Code: shared.ExitConfig, Message: "validation failed (strict mode: warnings treated as errors)"}
	}
	return nil
}

// validateConfig checks a loaded config against the host.
func validateConfig(cfg *config.Config, path string) ValidationResult {
	result := ValidationResult{Path: path}

	if info, err := os.Stat(cfg.WorkDir); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("work_dir %s: %v", cfg.WorkDir, err))
	} else if !info.IsDir() {
		result.Errors = append(result.Errors, fmt.Sprintf("work_dir %s is not a directory", cfg.WorkDir))
	}

	pidDir := filepath.Dir(cfg.PIDFile)
	if info, err := os.Stat(pidDir); err == nil {
		mode := info.Mode()
		if mode.Perm()&0002 != 0 && mode&os.ModeSticky == 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("pid_file directory %s is world-writable without the sticky bit", pidDir))
		}
	} else if os.IsNotExist(err) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("pid_file directory %s does not exist and will be created", pidDir))
	}

	if cfg.AcquireTimeout == 0 {
		result.Warnings = append(result.Warnings, "acquire_timeout is 0: restart fails if the old daemon has not exited yet")
	}

	if cfg.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("metrics.addr %q: %v", cfg.Metrics.Addr, err))
		}
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Exporter != "" && cfg.Tracing.Exporter != "console" && cfg.Tracing.Endpoint == "" {
		result.Warnings = append(result.Warnings, "tracing.endpoint is empty: the exporter's default collector address is used")
	}

	return result
}

// outputValidationResult prints the result as JSON or text.
func outputValidationResult(w io.Writer, result ValidationResult) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, result)
	}

	if result.Valid {
		fmt.Fprintln(w, shared.RenderOK("Configuration is valid"))
	} else {
		fmt.Fprintln(w, shared.RenderError("Configuration validation failed"))
	}
	fmt.Fprintf(w, "%s %s\n\n", shared.RenderLabel("File:"), result.Path)

	if len(result.Errors) > 0 {
		fmt.Fprintln(w, shared.Bold.Render("Errors:"))
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s %s\n", shared.StatusError.Render(shared.SymbolError), e)
		}
		fmt.Fprintln(w)
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintln(w, shared.Bold.Render("Warnings:"))
		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "  %s %s\n", shared.StatusWarn.Render(shared.SymbolWarn), warn)
		}
		fmt.Fprintln(w)
	}

	if result.Valid && len(result.Warnings) == 0 {
		fmt.Fprintln(w, "No issues found.")
	}
	return nil
}
