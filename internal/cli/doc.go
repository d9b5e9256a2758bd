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

/*
Package cli provides the root command of the agentrun CLI.

This package builds the Cobra command tree and handles global concerns like
version information, persistent flags and exit codes. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	agentrun
	├── launch        Launch an agent run
	├── status        Show a run's status and messages
	├── cancel        Request cancellation of a run
	├── list          List your runs
	├── login         Store an API token
	├── logout        Remove the stored token
	├── token         Mint a development token
	├── health        Check the server
	├── config        Show and validate agentrund configuration
	├── version       Show version
	├── completion    Generate shell completion scripts
	└── help          Show help

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	if err := cli.NewRootCommand().Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

	--json           Output in JSON format
	--config         Path to config file
	--server         Server URL
	--token          Bearer token

# Error Handling

  - Exit 0: Success
  - Exit 1: General error
  - Exit 2: Invalid usage
  - Exit 3: The run finished failed or cancelled
  - Exit 4: The server rejected the token
*/
package cli
