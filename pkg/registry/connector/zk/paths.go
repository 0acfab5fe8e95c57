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

package zk

import (
	"net/url"
	"path"
	"strings"

	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

// IgnoredServices are the children of the root which are not services.
var IgnoredServices = []string{"metadata", "config"}

func ignore(service string) bool {
	for _, s := range IgnoredServices {
		if s == service {
			return true
		}
	}
	return false
}

func normalizeRoot(root string) string {
	root = "/" + strings.Trim(root, "/")
	if root == "/" {
		return "/dubbo"
	}
	return root
}

// servicePath is /<root>/<interface>.
func servicePath(root, service string) string {
	return path.Join(root, url.QueryEscape(service))
}

func unescape(service string) (string, error) {
	return url.QueryUnescape(service)
}

// categoryPath is /<root>/<interface>/<category>.
func categoryPath(root, service, category string) string {
	return path.Join(servicePath(root, service), category)
}

// urlPath is the znode of u: /<root>/<interface>/<category>/<encoded url>.
func urlPath(root string, u *types.URL) string {
	return path.Join(categoryPath(root, u.ServiceInterface(), u.Category()), u.Encode())
}

// parents returns every ancestor of p below "/", the closest to the root first.
func parents(p string) []string {
	var result []string
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		result = append([]string{dir}, result...)
	}
	return result
}

// decodeChildren turns the children of a category node into urls of that category.
// Children which can not be decoded are skipped.
func decodeChildren(category string, children []string) ([]*types.URL, []string) {
	urls := make([]*types.URL, 0, len(children))
	var malformed []string
	for _, child := range children {
		u, err := types.DecodeURL(child)
		if err != nil {
			malformed = append(malformed, child)
			continue
		}
		if u.Category() != category {
			u = u.WithParameter(types.CategoryKey, category)
		}
		urls = append(urls, u)
	}
	return urls, malformed
}
