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

// Well-known URL parameter keys.
const (
	CategoryKey    = "category"
	DynamicKey     = "dynamic"
	CheckKey       = "check"
	InterfaceKey   = "interface"
	GroupKey       = "group"
	VersionKey     = "version"
	ClassifierKey  = "classifier"
	ApplicationKey = "application"
	SideKey        = "side"
	EnabledKey     = "enabled"
)

// Categories a registered URL may be stored under.
const (
	ProvidersCategory     = "providers"
	ConsumersCategory     = "consumers"
	RoutersCategory       = "routers"
	ConfiguratorsCategory = "configurators"

	DefaultCategory = ProvidersCategory
)

// AnyValue is the wildcard accepted by query conditions.
const AnyValue = "*"

// DefaultCategories are the categories a wildcard query is expanded to by the connectors which
// can not enumerate categories by themselves.
var DefaultCategories = []string{
	ProvidersCategory,
	ConsumersCategory,
	RoutersCategory,
	ConfiguratorsCategory,
}
