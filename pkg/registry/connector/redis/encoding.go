/*
Copyright 2020 The symcn authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redis

import (
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

const (
	registerEvent   = "register"
	unregisterEvent = "unregister"
)

func normalizeRoot(root string) string {
	root = "/" + strings.Trim(root, "/")
	if root == "/" {
		return "/dubbo"
	}
	return root
}

// categoryKey is the hash of the urls of one category: /<root>/<interface>/<category>.
func categoryKey(root, service, category string) string {
	return path.Join(root, url.QueryEscape(service), category)
}

func keyOf(root string, u *types.URL) string {
	return categoryKey(root, u.ServiceInterface(), u.Category())
}

// keyPattern matches the hashes of every category of a service, or of every service.
func keyPattern(root, service string) string {
	if service == types.AnyValue {
		return root + "/*"
	}
	return path.Join(root, url.QueryEscape(service)) + "/*"
}

// categoryPattern matches the hashes of category of every service.
func categoryPattern(root, category string) string {
	return root + "/*/" + category
}

// expiry is the value of a hash field: the unix milliseconds after which the url is stale, 0 for
// a persistent url.
func expiry(u *types.URL, now time.Time, ttl time.Duration) string {
	if !u.IsDynamic() {
		return "0"
	}
	return strconv.FormatInt(now.Add(ttl).UnixNano()/int64(time.Millisecond), 10)
}

func expired(value string, now time.Time) bool {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return true
	}
	return ms != 0 && ms < now.UnixNano()/int64(time.Millisecond)
}

// decodeEntries turns the fields of a category hash into urls, stale and malformed fields are
// returned apart.
func decodeEntries(category string, fields map[string]string, now time.Time) (urls []*types.URL, stale []string) {
	urls = make([]*types.URL, 0, len(fields))
	for field, value := range fields {
		if expired(value, now) {
			stale = append(stale, field)
			continue
		}
		u, err := types.ParseURL(field)
		if err != nil {
			stale = append(stale, field)
			continue
		}
		if u.Category() != category {
			u = u.WithParameter(types.CategoryKey, category)
		}
		urls = append(urls, u)
	}
	return types.SortURLs(urls), stale
}
