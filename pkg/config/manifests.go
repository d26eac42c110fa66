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

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/manifest"
)

// LoadManifestDir parses one AgentManifest per JSON/YAML file directly
// under dir (non-recursive), validating each and rejecting duplicate
// ids. Files are read in lexical filename order so a directory listing
// is reproducible across platforms.
func LoadManifestDir(dir string) ([]manifest.AgentManifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "read manifest directory", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".json" || ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	out := make([]manifest.AgentManifest, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.StorageFailure, "read manifest file", err).WithDetail("path", path)
		}
		expanded := ExpandEnv(string(data), lookupEnv)

		var m manifest.AgentManifest
		if strings.ToLower(filepath.Ext(name)) == ".json" {
			err = json.Unmarshal([]byte(expanded), &m)
		} else {
			err = yaml.Unmarshal([]byte(expanded), &m)
		}
		if err != nil {
			return nil, errs.Wrap(errs.InvalidConfiguration, "parse manifest file", err).WithDetail("path", path)
		}
		if err := m.Validate(); err != nil {
			return nil, errs.Wrap(errs.InvalidConfiguration, "invalid manifest", err).WithDetail("path", path)
		}
		if prior, dup := seen[m.ID]; dup {
			return nil, errs.New(errs.InvalidConfiguration, "duplicate manifest id").
				WithDetail("id", m.ID).WithDetail("files", prior+", "+path)
		}
		seen[m.ID] = path
		out = append(out, m)
	}
	return out, nil
}
