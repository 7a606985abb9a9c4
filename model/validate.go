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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

func nonNegative(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if ok && d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

func (i CommerceItem) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.ID, validation.Required),
		validation.Field(&i.Name, validation.Required),
		validation.Field(&i.Quantity, validation.Required, validation.Min(1)),
		validation.Field(&i.Price, validation.By(nonNegative)),
	)
}

// Validate checks a record before it is buffered or sent. Custom events need a
// name, purchases and cart updates need at least one item.
func (e EventRecord) Validate() error {
	needsItems := e.Type == EventTypePurchase || e.Type == EventTypeUpdateCart
	return validation.ValidateStruct(&e,
		validation.Field(&e.Type, validation.Required, validation.In(EventTypeCustom, EventTypePurchase, EventTypeUpdateCart, EventTypeUser)),
		validation.Field(&e.EventName, validation.When(e.Type == EventTypeCustom, validation.Required)),
		validation.Field(&e.Items, validation.When(needsItems, validation.Required)),
		validation.Field(&e.Total, validation.By(nonNegative)),
	)
}
