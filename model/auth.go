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

// AuthFailureReason enumerates why a token could not be obtained or was rejected.
type AuthFailureReason int

const (
	AuthTokenNull AuthFailureReason = iota
	AuthTokenExpired
	AuthTokenFormatInvalid
	AuthTokenPayloadInvalid
	AuthTokenSignatureInvalid
	AuthTokenInvalidated
	AuthTokenExpirationInvalid
	AuthTokenMissing
	AuthTokenUserKeyInvalid
	AuthTokenGenerationError
	AuthTokenGenericError
)

var authFailureReasonNames = map[AuthFailureReason]string{
	AuthTokenNull:              "AUTH_TOKEN_NULL",
	AuthTokenExpired:           "AUTH_TOKEN_EXPIRED",
	AuthTokenFormatInvalid:     "AUTH_TOKEN_FORMAT_INVALID",
	AuthTokenPayloadInvalid:    "AUTH_TOKEN_PAYLOAD_INVALID",
	AuthTokenSignatureInvalid:  "AUTH_TOKEN_SIGNATURE_INVALID",
	AuthTokenInvalidated:       "AUTH_TOKEN_INVALIDATED",
	AuthTokenExpirationInvalid: "AUTH_TOKEN_EXPIRATION_INVALID",
	AuthTokenMissing:           "AUTH_TOKEN_MISSING",
	AuthTokenUserKeyInvalid:    "AUTH_TOKEN_USER_KEY_INVALID",
	AuthTokenGenerationError:   "AUTH_TOKEN_GENERATION_ERROR",
	AuthTokenGenericError:      "AUTH_TOKEN_GENERIC_ERROR",
}

func (r AuthFailureReason) String() string {
	if name, ok := authFailureReasonNames[r]; ok {
		return name
	}
	return authFailureReasonNames[AuthTokenGenericError]
}

// Server error codes returned with a 401 when the JWT itself is the problem.
const (
	CodeInvalidJwtPayload            = "InvalidJwtPayload"
	CodeBadAuthorizationHeader       = "BadAuthorizationHeader"
	CodeJwtUserIdentifiersMismatched = "JwtUserIdentifiersMismatched"
	CodeJwtTokenExpired              = "JwtTokenExpired"
	CodeJwtSignatureInvalid          = "JwtSignatureInvalid"
	CodeJwtTokenInvalidated          = "JwtTokenInvalidated"
	CodeJwtExpirationTooFar          = "JwtExpirationTooFarInFuture"
)

var codeReasons = map[string]AuthFailureReason{
	CodeInvalidJwtPayload:            AuthTokenPayloadInvalid,
	CodeBadAuthorizationHeader:       AuthTokenMissing,
	CodeJwtUserIdentifiersMismatched: AuthTokenUserKeyInvalid,
	CodeJwtTokenExpired:              AuthTokenExpired,
	CodeJwtSignatureInvalid:          AuthTokenSignatureInvalid,
	CodeJwtTokenInvalidated:          AuthTokenInvalidated,
	CodeJwtExpirationTooFar:          AuthTokenExpirationInvalid,
}

// IsJwtErrorCode reports whether a 401 error code should be handled as an auth failure.
func IsJwtErrorCode(code string) bool {
	_, ok := codeReasons[code]
	return ok
}

// AuthFailureReasonFromCode maps a server error code to a failure reason.
func AuthFailureReasonFromCode(code string) AuthFailureReason {
	if reason, ok := codeReasons[code]; ok {
		return reason
	}
	return AuthTokenGenericError
}

// AuthFailure is delivered to the host application whenever a token cannot be used.
type AuthFailure struct {
	UserKey           string            `json:"user_key"`
	FailedAuthToken   string            `json:"failed_auth_token,omitempty"`
	FailedRequestTime int64             `json:"failed_request_time"`
	Reason            AuthFailureReason `json:"reason"`
}

// AuthSession is a point in time copy of the auth manager state.
type AuthSession struct {
	Email              string `json:"email,omitempty"`
	UserID             string `json:"user_id,omitempty"`
	Token              string `json:"token,omitempty"`
	IsTokenValid       bool   `json:"is_token_valid"`
	PendingAuthRequest bool   `json:"pending_auth_request"`
	RetryCount         int    `json:"retry_count"`
	HasFailedPriorAuth bool   `json:"has_failed_prior_auth"`
	RetriesPaused      bool   `json:"retries_paused"`
}

// UserKey returns whichever identity is set, email first.
func (s AuthSession) UserKey() string {
	if s.Email != "" {
		return s.Email
	}
	return s.UserID
}

// HasIdentity reports whether an email or user id is set.
func (s AuthSession) HasIdentity() bool {
	return s.UserKey() != ""
}
