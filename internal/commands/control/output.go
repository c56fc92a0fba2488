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

package control

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/daemonrunner/internal/commands/shared"
	"github.com/tombee/daemonrunner/pkg/runner"
)

// resultResponse is the --json form of an action result.
type resultResponse struct {
	shared.JSONResponse
	runner.Result
	PIDFile     string `json:"pid_file"`
	CommandLine string `json:"command_line,omitempty"`
}

func envOptions(cmd *cobra.Command, opts Options) EnvOptions {
	return EnvOptions{
		ConfigPath: shared.GetConfigPath(),
		Verbose:    shared.GetVerbose(),
		Quiet:      shared.GetQuiet(),
		JSON:       shared.GetJSON(),
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
		Callback:   opts.Callback,
		StartArgs:  startArgs(cmd),
	}
}

// startArgs is the path of the sibling start command below the root. The
// daemon re-executes it, so the commands work wherever they are mounted.
func startArgs(cmd *cobra.Command) []string {
	var path []string
	for c := cmd.Parent(); c != nil && c.HasParent(); c = c.Parent() {
		path = append([]string{c.Name()}, path...)
	}
	return append(path, "start")
}

// runAction builds an environment, runs fn and reports its result.
func runAction(cmd *cobra.Command, opts EnvOptions, fn func(ctx context.Context, env *Environment) (runner.Result, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := NewEnvironment(ctx, opts)
	if err != nil {
		return err
	}
	defer env.Close(context.WithoutCancel(ctx))

	res, err := fn(ctx, env)
	if err != nil {
		if opts.JSON {
			shared.EmitJSONError(cmd.OutOrStdout(), string(res.Action), err)
		}
		return err
	}
	if opts.JSON {
		return emitResult(cmd.OutOrStdout(), env, res, "")
	}
	return nil
}

func emitResult(w io.Writer, env *Environment, res runner.Result, commandLine string) error {
	return shared.EmitJSON(w, resultResponse{
		JSONResponse: shared.JSONResponse{
			Version: "1.0",
			Command: string(res.Action),
			Success: res.Outcome != runner.OutcomeFailed,
		},
		Result:      res,
		PIDFile:     env.Runner.Lock().Path(),
		CommandLine: commandLine,
	})
}
