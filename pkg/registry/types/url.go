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

package types

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// URL describes a registrable or queryable entity, e.g:
//
//	dubbo://10.20.153.10:20880/org.apache.dubbo.foo.BarService?version=1.0.0&application=kylin
//
// A URL is immutable once created, every mutator returns a copy. Two URLs are equal when all of
// their fields including the parameters are equal, the canonical string form is used as the
// identity of a URL everywhere in the registry.
type URL struct {
	protocol string
	address  string
	path     string
	params   map[string]string

	canonical string
}

// NewURL creates a URL, the parameters are copied.
func NewURL(protocol, address, path string, params map[string]string) *URL {
	u := &URL{
		protocol: protocol,
		address:  address,
		path:     strings.TrimPrefix(path, "/"),
		params:   make(map[string]string, len(params)),
	}
	for k, v := range params {
		u.params[k] = v
	}
	u.canonical = u.build()
	return u
}

// ParseURL parses a plain URL string.
func ParseURL(raw string) (*URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "empty url")
	}
	ep, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "parse url %q: %v", raw, err)
	}

	params := make(map[string]string)
	for key, value := range ep.Query() {
		if len(value) > 0 {
			params[key] = value[0]
		}
	}
	return NewURL(ep.Scheme, ep.Host, ep.Path, params), nil
}

// DecodeURL parses a URL which has been escaped by Encode, as it is stored in a znode name.
func DecodeURL(escaped string) (*URL, error) {
	raw, err := url.QueryUnescape(escaped)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "unescape url %q: %v", escaped, err)
	}
	return ParseURL(raw)
}

// MustParseURL is ParseURL which panics on error, it is meant for static urls and tests.
func MustParseURL(raw string) *URL {
	u, err := ParseURL(raw)
	if err != nil {
		panic(err)
	}
	return u
}

func (u *URL) build() string {
	var b strings.Builder
	b.WriteString(u.protocol)
	b.WriteString("://")
	b.WriteString(u.address)
	b.WriteString("/")
	b.WriteString(u.path)
	if len(u.params) > 0 {
		values := make(url.Values, len(u.params))
		for k, v := range u.params {
			values.Set(k, v)
		}
		b.WriteString("?")
		b.WriteString(values.Encode())
	}
	return b.String()
}

// IsEmpty reports whether the url carries nothing to identify an entity, it is nil safe.
func (u *URL) IsEmpty() bool {
	return u == nil || (u.protocol == "" && u.address == "" && u.path == "" && len(u.params) == 0)
}

// Protocol ...
func (u *URL) Protocol() string { return u.protocol }

// Address returns host:port.
func (u *URL) Address() string { return u.address }

// Host returns the address without the port.
func (u *URL) Host() string {
	host, _, err := net.SplitHostPort(u.address)
	if err != nil {
		return u.address
	}
	return host
}

// Port returns the port part of the address, empty when there is none.
func (u *URL) Port() string {
	_, port, err := net.SplitHostPort(u.address)
	if err != nil {
		return ""
	}
	return port
}

// Path ...
func (u *URL) Path() string { return u.path }

// Parameter returns the value of key, empty when it is absent.
func (u *URL) Parameter(key string) string {
	return u.params[key]
}

// ParameterOr returns the value of key or def when it is absent or empty.
func (u *URL) ParameterOr(key, def string) string {
	if v, ok := u.params[key]; ok && v != "" {
		return v
	}
	return def
}

// Parameters returns a copy of all parameters.
func (u *URL) Parameters() map[string]string {
	params := make(map[string]string, len(u.params))
	for k, v := range u.params {
		params[k] = v
	}
	return params
}

// WithParameter returns a copy of u with key set to value.
func (u *URL) WithParameter(key, value string) *URL {
	params := u.Parameters()
	params[key] = value
	return NewURL(u.protocol, u.address, u.path, params)
}

// Category the url is stored under, "providers" by default.
func (u *URL) Category() string {
	return u.ParameterOr(CategoryKey, DefaultCategory)
}

// Categories splits a comma separated category condition of a query.
func (u *URL) Categories() []string {
	var categories []string
	for _, c := range strings.Split(u.Category(), ",") {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	return categories
}

// IsDynamic reports whether the url is ephemeral, which is the default.
func (u *URL) IsDynamic() bool {
	return !strings.EqualFold(u.Parameter(DynamicKey), "false")
}

// IsCheck reports whether failures must be surfaced to the caller, which is the default.
func (u *URL) IsCheck() bool {
	return !strings.EqualFold(u.Parameter(CheckKey), "false")
}

// ServiceInterface returns the "interface" parameter, falling back to the path.
func (u *URL) ServiceInterface() string {
	return u.ParameterOr(InterfaceKey, u.path)
}

// Group ...
func (u *URL) Group() string { return u.Parameter(GroupKey) }

// Version ...
func (u *URL) Version() string { return u.Parameter(VersionKey) }

// Classifier ...
func (u *URL) Classifier() string { return u.Parameter(ClassifierKey) }

// ServiceKey returns group/interface:version, omitting the empty parts.
func (u *URL) ServiceKey() string {
	key := u.ServiceInterface()
	if g := u.Group(); g != "" {
		key = g + "/" + key
	}
	if v := u.Version(); v != "" {
		key = key + ":" + v
	}
	return key
}

// String returns the canonical form: parameters are sorted by key.
func (u *URL) String() string {
	if u == nil {
		return ""
	}
	return u.canonical
}

// Key is the identity of the url.
func (u *URL) Key() string {
	return u.String()
}

// Encode escapes the canonical form so that it can be used as a single path segment.
func (u *URL) Encode() string {
	return url.QueryEscape(u.canonical)
}

// Equal compares two urls structurally.
func (u *URL) Equal(o *URL) bool {
	if u == nil || o == nil {
		return u == o
	}
	return u.canonical == o.canonical
}

// SortURLs sorts urls by their canonical form in place and returns them.
func SortURLs(urls []*URL) []*URL {
	sort.Slice(urls, func(i, j int) bool {
		return urls[i].canonical < urls[j].canonical
	})
	return urls
}
