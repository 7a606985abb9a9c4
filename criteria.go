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

package beacon

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/beacon/database"
	"github.com/jerry-enebeli/beacon/internal/cache"
	"github.com/jerry-enebeli/beacon/model"
)

const (
	criteriaResource = "anonymoususer/list"
	criteriaCacheKey = "beacon:criteria"
	criteriaCacheTTL = 10 * time.Minute
)

var ErrEmptyCriteria = errors.New("criteria response has no body")

type blobStore interface {
	GetBlob(key string) ([]byte, error)
	PutBlob(key string, value []byte) error
}

// CriteriaStore keeps the server's anonymous completion criteria. The raw
// document lives in the kv store and is read through the cache.
type CriteriaStore struct {
	store    blobStore
	cache    cache.Cache
	executor requestExecutor
}

func NewCriteriaStore(store blobStore, c cache.Cache, executor requestExecutor) *CriteriaStore {
	return &CriteriaStore{store: store, cache: c, executor: executor}
}

// Fetch downloads the criteria list, stores it verbatim and refreshes the cache.
func (c *CriteriaStore) Fetch(ctx context.Context) (*model.CriteriaDocument, error) {
	resp := c.executor.Execute(ctx, &model.ApiRequest{Resource: criteriaResource, Method: http.MethodGet})
	if !resp.Success() {
		return nil, resp.Err
	}
	if len(resp.Raw) == 0 {
		return nil, ErrEmptyCriteria
	}

	doc, err := decodeCriteria(resp.Raw)
	if err != nil {
		return nil, err
	}

	if err := c.store.PutBlob(database.KeyCriteria, resp.Raw); err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, criteriaCacheKey, resp.Raw, criteriaCacheTTL); err != nil {
			logrus.WithError(err).Warn("failed to cache criteria")
		}
	}

	logrus.WithField("criteria", len(doc.CriteriaSets)).Info("anonymous criteria fetched")
	return doc, nil
}

// Load returns the stored criteria, or nil when none were fetched yet.
func (c *CriteriaStore) Load(ctx context.Context) (*model.CriteriaDocument, error) {
	var raw []byte
	if c.cache == nil {
		blob, err := c.store.GetBlob(database.KeyCriteria)
		if err != nil {
			return nil, err
		}
		raw = blob
	} else {
		err := c.cache.Once(ctx, criteriaCacheKey, &raw, criteriaCacheTTL, func() (interface{}, error) {
			return c.store.GetBlob(database.KeyCriteria)
		})
		if err != nil {
			return nil, err
		}
	}

	if len(raw) == 0 {
		return nil, nil
	}
	return decodeCriteria(raw)
}

func decodeCriteria(raw []byte) (*model.CriteriaDocument, error) {
	var doc model.CriteriaDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// flatEvent is one buffered record reduced to field paths and their values.
type flatEvent struct {
	dataType model.EventType
	fields   map[string][]interface{}
}

// MatchCriteria evaluates every criteria set against the buffered activity and
// returns the id of the first one that matches.
//
// Parameters:
// - doc *model.CriteriaDocument: The criteria to evaluate. nil never matches.
// - state *model.AnonymousState: Buffered events and the pending user update.
//
// Returns:
// - string: The matched criteria id.
// - bool: Whether any criteria set matched.
func MatchCriteria(doc *model.CriteriaDocument, state *model.AnonymousState) (string, bool) {
	if doc == nil || state == nil {
		return "", false
	}

	events := flattenState(state)
	if len(events) == 0 {
		return "", false
	}

	for _, set := range doc.CriteriaSets {
		if evalNode(set.SearchQuery, events) {
			return set.CriteriaID, true
		}
	}
	return "", false
}

func flattenState(state *model.AnonymousState) []flatEvent {
	events := make([]flatEvent, 0, len(state.Events)+1)
	for _, e := range state.Events {
		events = append(events, flattenEvent(e))
	}
	if len(state.PendingUserUpdate) > 0 {
		fields := map[string][]interface{}{}
		flattenInto(fields, "", state.PendingUserUpdate)
		events = append(events, flatEvent{dataType: model.EventTypeUser, fields: fields})
	}
	return events
}

func flattenEvent(e model.EventRecord) flatEvent {
	fields := map[string][]interface{}{}

	switch e.Type {
	case model.EventTypeCustom:
		fields["eventName"] = []interface{}{e.EventName}
		flattenInto(fields, "", e.DataFields)
		if e.EventName != "" {
			flattenInto(fields, e.EventName+".", e.DataFields)
		}
	case model.EventTypePurchase:
		total, _ := e.Total.Float64()
		fields["total"] = []interface{}{total}
		for _, item := range e.Items {
			flattenInto(fields, "shoppingCartItems.", item.ToMap())
		}
		flattenInto(fields, "", e.DataFields)
	case model.EventTypeUpdateCart:
		for _, item := range e.Items {
			flattenInto(fields, "updateCart.updatedShoppingCartItems.", item.ToMap())
		}
		flattenInto(fields, "", e.DataFields)
	default:
		flattenInto(fields, "", e.DataFields)
	}

	return flatEvent{dataType: e.Type, fields: fields}
}

// flattenInto records every scalar of m under its dotted path. Array elements
// share the path of the array.
func flattenInto(fields map[string][]interface{}, prefix string, m map[string]interface{}) {
	for k, v := range m {
		addValue(fields, prefix+k, v)
	}
}

func addValue(fields map[string][]interface{}, path string, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		flattenInto(fields, path+".", val)
	case []interface{}:
		for _, inner := range val {
			addValue(fields, path, inner)
		}
	case []string:
		for _, inner := range val {
			fields[path] = append(fields[path], inner)
		}
	default:
		fields[path] = append(fields[path], val)
	}
}

// evalNode evaluates a node against the whole buffer.
func evalNode(node model.SearchQuery, events []flatEvent) bool {
	switch {
	case node.IsDataType():
		required := node.MinMatch
		if required < 1 {
			required = 1
		}
		matched := 0
		for _, e := range events {
			if e.dataType != model.EventType(node.DataType) {
				continue
			}
			if evalEventNode(*node.SearchCombo, e) {
				matched++
				if matched >= required {
					return true
				}
			}
		}
		return false
	case node.IsLeaf():
		for _, e := range events {
			if node.DataType != "" && e.dataType != model.EventType(node.DataType) {
				continue
			}
			if matchLeaf(node, e.fields) {
				return true
			}
		}
		return false
	default:
		return combine(node.Combinator, len(node.SearchQueries), func(i int) bool {
			return evalNode(node.SearchQueries[i], events)
		})
	}
}

// evalEventNode evaluates a node against a single event.
func evalEventNode(node model.SearchQuery, e flatEvent) bool {
	switch {
	case node.IsDataType():
		return e.dataType == model.EventType(node.DataType) && evalEventNode(*node.SearchCombo, e)
	case node.IsLeaf():
		return matchLeaf(node, e.fields)
	default:
		return combine(node.Combinator, len(node.SearchQueries), func(i int) bool {
			return evalEventNode(node.SearchQueries[i], e)
		})
	}
}

// combine applies a combinator to n children. A group without children never matches.
func combine(combinator string, n int, child func(i int) bool) bool {
	if n == 0 {
		return false
	}

	switch combinator {
	case model.CombinatorOr:
		for i := 0; i < n; i++ {
			if child(i) {
				return true
			}
		}
		return false
	case model.CombinatorNot:
		for i := 0; i < n; i++ {
			if child(i) {
				return false
			}
		}
		return true
	default:
		for i := 0; i < n; i++ {
			if !child(i) {
				return false
			}
		}
		return true
	}
}

func matchLeaf(leaf model.SearchQuery, fields map[string][]interface{}) bool {
	values, ok := fields[leaf.Field]

	switch leaf.ComparatorType {
	case model.ComparatorIsSet:
		for _, v := range values {
			if v != nil && model.Stringify(v) != "" {
				return true
			}
		}
		return false
	case model.ComparatorDoesNotEqual:
		if !ok {
			return false
		}
		for _, v := range values {
			if valuesEqual(v, leaf.Value) {
				return false
			}
		}
		return true
	}

	for _, v := range values {
		if compare(leaf, v) {
			return true
		}
	}
	return false
}

func compare(leaf model.SearchQuery, actual interface{}) bool {
	switch leaf.ComparatorType {
	case model.ComparatorEquals:
		return valuesEqual(actual, leaf.Value)
	case model.ComparatorIsOneOf:
		for _, candidate := range leaf.Values {
			if valuesEqual(actual, candidate) {
				return true
			}
		}
		return false
	case model.ComparatorGreaterThan, model.ComparatorLessThan,
		model.ComparatorGreaterThanOrEqualTo, model.ComparatorLessThanOrEqualTo:
		a, aok := toDecimal(actual)
		b, bok := toDecimal(leaf.Value)
		if !aok || !bok {
			return false
		}
		switch leaf.ComparatorType {
		case model.ComparatorGreaterThan:
			return a.GreaterThan(b)
		case model.ComparatorLessThan:
			return a.LessThan(b)
		case model.ComparatorGreaterThanOrEqualTo:
			return a.GreaterThanOrEqual(b)
		default:
			return a.LessThanOrEqual(b)
		}
	case model.ComparatorContains:
		return strings.Contains(model.Stringify(actual), leaf.ValueString())
	case model.ComparatorStartsWith:
		return strings.HasPrefix(model.Stringify(actual), leaf.ValueString())
	case model.ComparatorMatchesRegex:
		re, err := regexp.Compile(leaf.ValueString())
		if err != nil {
			logrus.WithError(err).Debug("invalid criteria regex")
			return false
		}
		return re.MatchString(model.Stringify(actual))
	default:
		return false
	}
}

// valuesEqual compares numerically when both sides are numbers, case
// insensitively for booleans and as strings otherwise.
func valuesEqual(actual, expected interface{}) bool {
	if a, ok := toDecimal(actual); ok {
		if b, ok := toDecimal(expected); ok {
			return a.Equal(b)
		}
	}

	as, es := model.Stringify(actual), model.Stringify(expected)
	if _, isBool := actual.(bool); isBool {
		return strings.EqualFold(as, es)
	}
	return as == es
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case nil, bool:
		return decimal.Zero, false
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case decimal.Decimal:
		return val, true
	default:
		d, err := decimal.NewFromString(strings.TrimSpace(model.Stringify(val)))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
}
