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
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func tokenExpiringIn(t *testing.T, d time.Duration) string {
	t.Helper()
	return signToken(t, jwt.MapClaims{
		"email": "user@example.com",
		"exp":   time.Now().Add(d).Unix(),
	})
}

func TestTokenExpiration(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, jwt.MapClaims{"userId": "42", "exp": exp.Unix()})

	got, err := tokenExpiration(token)
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))
}

func TestTokenExpiration_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "two segments", token: "abc.def", want: ErrMalformedJwt},
		{name: "not base64", token: "a.b.c"},
		{name: "missing exp", token: signToken(t, jwt.MapClaims{"userId": "42"}), want: ErrMissingExpiry},
		{name: "exp is a string", token: signToken(t, jwt.MapClaims{"exp": "tomorrow"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokenExpiration(tt.token)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}
