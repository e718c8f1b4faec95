// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/kraklabs/elenchus/pkg/cache"
	"github.com/kraklabs/elenchus/pkg/model"
)

func handleGetCacheStats(a *App, _ context.Context, _ json.RawMessage) (any, error) {
	hits, misses := a.cache.Stats()
	a.metrics.observeCacheStats(hits, misses)
	return map[string]any{"entries": a.cache.Len(), "hits": hits, "misses": misses}, nil
}

func handleClearCache(a *App, _ context.Context, _ json.RawMessage) (any, error) {
	a.cache.Clear()
	return map[string]any{"cleared": true}, nil
}

// cacheSkippable lists context files whose current content already has a
// fresh verifier-role cache entry, so the host can skip re-verifying them.
// Deleted or content-less files never qualify.
func (a *App) cacheSkippable(s *model.Session) []string {
	now := time.Now()
	var paths []string
	for path, fc := range s.Context.Files {
		if fc == nil || fc.Content == "" {
			continue
		}
		fp := cache.Fingerprint(fc.Content, s.Context.Requirements, string(model.RoleVerifier), "")
		if res := a.cache.Lookup(fp, now); res.Hit {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}
