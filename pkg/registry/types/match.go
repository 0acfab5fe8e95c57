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

// IsMatch decides whether candidate satisfies the conditions of query.
//
// 1. the category of the query may be "*" or a comma separated list, "providers" when it is absent.
// 2. interface, group, version and classifier are exact conditions unless they are absent or "*".
// No other parameter takes part in matching.
func IsMatch(query, candidate *URL) bool {
	if query == nil || candidate == nil {
		return false
	}
	if !MatchCategory(query, candidate.Category()) {
		return false
	}

	return matchCondition(query.ServiceInterface(), candidate.ServiceInterface()) &&
		matchCondition(query.Group(), candidate.Group()) &&
		matchCondition(query.Version(), candidate.Version()) &&
		matchCondition(query.Classifier(), candidate.Classifier())
}

// MatchCategory reports whether category is covered by the category condition of query.
func MatchCategory(query *URL, category string) bool {
	for _, c := range query.Categories() {
		if c == AnyValue || c == category {
			return true
		}
	}
	return false
}

// IsWildcardCategory reports whether the query subscribes every category.
func IsWildcardCategory(query *URL) bool {
	for _, c := range query.Categories() {
		if c == AnyValue {
			return true
		}
	}
	return false
}

func matchCondition(condition, value string) bool {
	if condition == "" || condition == AnyValue {
		return true
	}
	return condition == value
}
