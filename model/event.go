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
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTypeCustom     EventType = "customEvent"
	EventTypePurchase   EventType = "purchase"
	EventTypeUpdateCart EventType = "updateCart"
	EventTypeUser       EventType = "user"
)

// CommerceItem is a line item of a purchase or cart update.
type CommerceItem struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Price       decimal.Decimal        `json:"price"`
	Quantity    int                    `json:"quantity"`
	SKU         string                 `json:"sku,omitempty"`
	Description string                 `json:"description,omitempty"`
	URL         string                 `json:"url,omitempty"`
	ImageURL    string                 `json:"imageUrl,omitempty"`
	Categories  []string               `json:"categories,omitempty"`
	DataFields  map[string]interface{} `json:"dataFields,omitempty"`
}

// ToMap renders the item with the wire field names used by the API and by criteria.
func (i CommerceItem) ToMap() map[string]interface{} {
	price, _ := i.Price.Float64()
	m := map[string]interface{}{
		"id":       i.ID,
		"name":     i.Name,
		"price":    price,
		"quantity": i.Quantity,
	}
	if i.SKU != "" {
		m["sku"] = i.SKU
	}
	if i.Description != "" {
		m["description"] = i.Description
	}
	if i.URL != "" {
		m["url"] = i.URL
	}
	if i.ImageURL != "" {
		m["imageUrl"] = i.ImageURL
	}
	if len(i.Categories) > 0 {
		categories := make([]interface{}, len(i.Categories))
		for idx, c := range i.Categories {
			categories[idx] = c
		}
		m["categories"] = categories
	}
	if len(i.DataFields) > 0 {
		m["dataFields"] = i.DataFields
	}
	return m
}

// ItemsTotal sums price times quantity over the items.
func ItemsTotal(items []CommerceItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// EventRecord is one buffered anonymous activity.
type EventRecord struct {
	Type       EventType              `json:"dataType"`
	EventName  string                 `json:"eventName,omitempty"`
	DataFields map[string]interface{} `json:"dataFields,omitempty"`
	Items      []CommerceItem         `json:"items,omitempty"`
	Total      decimal.Decimal        `json:"total"`
	CreatedAt  int64                  `json:"createdAt"`
}

// SessionMeta tracks foreground sessions of an anonymous visitor.
type SessionMeta struct {
	SessionNumber int   `json:"sessionNumber"`
	FirstSession  int64 `json:"firstSession"`
	LastSession   int64 `json:"lastSession"`
}

// Start records a new session starting at now (epoch millis).
func (s *SessionMeta) Start(now int64) {
	s.SessionNumber++
	if s.FirstSession == 0 {
		s.FirstSession = now
	}
	s.LastSession = now
}

// AnonymousState is the durable form of the anonymous buffer.
type AnonymousState struct {
	Events            []EventRecord          `json:"events"`
	PendingUserUpdate map[string]interface{} `json:"pendingUserUpdate,omitempty"`
	Session           SessionMeta            `json:"session"`
	MatchedCriteriaID string                 `json:"matchedCriteriaId,omitempty"`
}

// Trim evicts the oldest events until at most threshold remain.
func (s *AnonymousState) Trim(threshold int) {
	if threshold <= 0 || len(s.Events) <= threshold {
		return
	}
	s.Events = append([]EventRecord(nil), s.Events[len(s.Events)-threshold:]...)
}
