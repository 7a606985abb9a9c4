/*
Copyright 2024 Blnk Finance Authors.

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

package model

import (
	"fmt"
	"strconv"
)

const (
	CombinatorAnd = "And"
	CombinatorOr  = "Or"
	CombinatorNot = "Not"
)

// Comparators understood by the completion checker.
const (
	ComparatorEquals               = "Equals"
	ComparatorDoesNotEqual         = "DoesNotEqual"
	ComparatorIsSet                = "IsSet"
	ComparatorGreaterThan          = "GreaterThan"
	ComparatorLessThan             = "LessThan"
	ComparatorGreaterThanOrEqualTo = "GreaterThanOrEqualTo"
	ComparatorLessThanOrEqualTo    = "LessThanOrEqualTo"
	ComparatorContains             = "Contains"
	ComparatorStartsWith           = "StartsWith"
	ComparatorMatchesRegex         = "MatchesRegex"
	ComparatorIsOneOf              = "IsOneOf"
)

// CriteriaDocument is the server list of anonymous completion criteria.
type CriteriaDocument struct {
	Count        int           `json:"count"`
	CriteriaSets []CriteriaSet `json:"criteriaSets"`
}

type CriteriaSet struct {
	CriteriaID  string      `json:"criteriaId"`
	Name        string      `json:"name,omitempty"`
	SearchQuery SearchQuery `json:"searchQuery"`
}

// SearchQuery is a node of the criteria tree. A node with SearchCombo set is a
// data type node, a node with Field set is a leaf, anything else is a group.
type SearchQuery struct {
	Combinator     string        `json:"combinator,omitempty"`
	SearchQueries  []SearchQuery `json:"searchQueries,omitempty"`
	DataType       string        `json:"dataType,omitempty"`
	SearchCombo    *SearchQuery  `json:"searchCombo,omitempty"`
	MinMatch       int           `json:"minMatch,omitempty"`
	Field          string        `json:"field,omitempty"`
	ComparatorType string        `json:"comparatorType,omitempty"`
	Value          interface{}   `json:"value,omitempty"`
	Values         []interface{} `json:"values,omitempty"`
	FieldType      string        `json:"fieldType,omitempty"`
}

func (q SearchQuery) IsLeaf() bool {
	return q.Field != ""
}

func (q SearchQuery) IsDataType() bool {
	return q.SearchCombo != nil
}

// ValueString renders the comparison value the way it appears in a query.
func (q SearchQuery) ValueString() string {
	return Stringify(q.Value)
}

// ValueStrings renders the IsOneOf values.
func (q SearchQuery) ValueStrings() []string {
	out := make([]string, 0, len(q.Values))
	for _, v := range q.Values {
		out = append(out, Stringify(v))
	}
	return out
}

// Stringify formats a decoded JSON scalar without float noise.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
