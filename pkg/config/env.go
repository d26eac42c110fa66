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

// Package config loads the runtime's top-level configuration file: the
// storage backend selection, the policy and manifest file locations, and
// every component sub-config (ratelimit, checkpoint, audit), tying
// together the narrower per-package config loaders (pkg/policy's own
// Config, pkg/ratelimit.Config, pkg/checkpoint.Config) into one document.
package config

import (
	"os"
	"regexp"

	"github.com/joho/godotenv"

	"github.com/kadirpekel/agentkernel/pkg/errs"
)

// These patterns match three reference shapes, tried in this order so
// the most specific form wins: ${VAR:-default}, ${VAR}, and bare $VAR.
var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-([^}]*)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	envBare        = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// ExpandEnv substitutes ${VAR:-default}, ${VAR}, and $VAR references in
// raw against lookup, in that precedence order, mirroring the teacher's
// three-pattern expansion in pkg/config/env.go. A referenced variable
// with no default and no value in lookup expands to the empty string.
func ExpandEnv(raw string, lookup func(string) (string, bool)) string {
	out := envWithDefault.ReplaceAllStringFunc(raw, func(m string) string {
		groups := envWithDefault.FindStringSubmatch(m)
		if v, ok := lookup(groups[1]); ok {
			return v
		}
		return groups[2]
	})
	out = envBraced.ReplaceAllStringFunc(out, func(m string) string {
		name := envBraced.FindStringSubmatch(m)[1]
		v, _ := lookup(name)
		return v
	})
	out = envBare.ReplaceAllStringFunc(out, func(m string) string {
		name := envBare.FindStringSubmatch(m)[1]
		v, _ := lookup(name)
		return v
	})
	return out
}

// LoadEnvFiles loads .env.local then .env into the process environment
// (first file wins per key, since godotenv.Load never overwrites an
// already-set variable), mirroring the teacher's pkg/config/env.go
// LoadEnvFiles. A missing file is not an error; any other read/parse
// failure is. Callers load env files before LoadFile so ${VAR}
// references in the config can see them.
func LoadEnvFiles() error {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.StorageFailure, "load env file", err).WithDetail("file", name)
		}
	}
	return nil
}
