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
Package secrets stores the CLI's API tokens.

Tokens are resolved through a priority-ordered chain of backends:

	env      - AGENTRUN_TOKEN (read-only, highest priority)
	keychain - OS keychain (macOS Keychain, Linux Secret Service, Windows Credential Manager)

A TokenStore keys tokens by server URL, so one workstation can hold
credentials for several agentrun deployments.
*/
package secrets
