// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import "github.com/kadirpekel/agentkernel/pkg/errs"

// exitCodeFor maps an error's errs.Kind to the CLI exit code contract
// (spec.md §6: "0 success, 1 generic error, 2 usage error, 3 policy
// denial, 4 infrastructure unavailable").
func exitCodeFor(err error) int {
	switch errs.Of(err) {
	case errs.InvalidConfiguration:
		return exitUsage
	case errs.PolicyBlocked, errs.PermissionDenied, errs.ApprovalRequired:
		return exitPolicy
	case errs.StorageFailure, errs.Timeout:
		return exitInfra
	default:
		return exitGeneric
	}
}
