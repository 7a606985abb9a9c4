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
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedJwt  = errors.New("jwt must have three segments")
	ErrMissingExpiry = errors.New("jwt has no exp claim")
)

// tokenExpiration decodes the exp claim of a JWT without verifying its signature.
// Signature checks belong to the server; the client only needs to know when to refresh.
func tokenExpiration(token string) (time.Time, error) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, ErrMalformedJwt
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, ErrMissingExpiry
	}
	return exp.Time, nil
}
