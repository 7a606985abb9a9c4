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
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jerry-enebeli/beacon/config"
	"github.com/jerry-enebeli/beacon/internal/apierror"
	"github.com/jerry-enebeli/beacon/internal/request"
	"github.com/jerry-enebeli/beacon/model"
)

const (
	SDKPlatform = "Go"
	SDKVersion  = "0.1.0"
)

var (
	tracer = otel.Tracer("beacon")
)

// Response is the classified outcome of one executed ApiRequest.
type Response struct {
	StatusCode int
	Body       map[string]interface{}
	Raw        []byte
	Err        error
}

func (r *Response) Success() bool {
	return r.Err == nil
}

// Code returns the error code of a failed response, or "" on success.
func (r *Response) Code() apierror.ErrorCode {
	return apierror.CodeOf(r.Err)
}

func (r *Response) Retryable() bool {
	return apierror.IsRetryable(r.Err)
}

// TokenSource is the part of the AuthManager the executor depends on.
type TokenSource interface {
	Token() string
	HandleAuthFailure(reason model.AuthFailureReason, token string)
	RefreshToken(ctx context.Context, hasFailedPriorAuth bool) (string, error)
	OnRequestSucceeded()
}

// Executor performs ApiRequests against the marketing API.
type Executor struct {
	baseURL      string
	apiKey       string
	auth         TokenSource
	client       *http.Client
	writeTimeout time.Duration
	readTimeout  time.Duration
}

// NewExecutor creates an Executor. A nil client means http.DefaultClient.
func NewExecutor(cnf *config.Configuration, auth TokenSource, client *http.Client) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		baseURL:      cnf.BaseURL,
		apiKey:       cnf.ApiKey,
		auth:         auth,
		client:       client,
		writeTimeout: cnf.WriteTimeout(),
		readTimeout:  cnf.ReadTimeout(),
	}
}

// Execute sends req and classifies the result. A 401 caused by the JWT gets
// one token refresh and exactly one re-submission; the second outcome is final.
//
// Parameters:
// - ctx context.Context: Bounds the whole execution, including a token refresh.
// - req *model.ApiRequest: The request to send.
//
// Returns:
// - *Response: The classified response. It is never nil.
func (e *Executor) Execute(ctx context.Context, req *model.ApiRequest) *Response {
	ctx, span := tracer.Start(ctx, "Executing API request", trace.WithAttributes(
		attribute.String("resource", req.Resource),
		attribute.String("method", req.Method),
	))
	defer span.End()

	token := req.AuthToken
	if current := e.currentToken(); current != "" {
		token = current
	}

	resp := e.send(ctx, req, token)
	if resp.Code() == apierror.ErrAuthFailure && e.auth != nil {
		e.auth.HandleAuthFailure(failureReason(resp.Err), token)

		newToken, err := e.auth.RefreshToken(ctx, true)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"resource": req.Resource,
				"error":    err,
			}).Warn("could not refresh auth token after auth failure")
			span.RecordError(err)
			return resp
		}

		span.AddEvent("auth token refreshed")
		resp = e.send(ctx, req, newToken)
		if resp.Code() == apierror.ErrAuthFailure {
			e.auth.HandleAuthFailure(failureReason(resp.Err), newToken)
		}
	}

	if resp.Success() {
		if e.auth != nil {
			e.auth.OnRequestSucceeded()
		}
		return resp
	}

	span.RecordError(resp.Err)
	return resp
}

func (e *Executor) currentToken() string {
	if e.auth == nil {
		return ""
	}
	return e.auth.Token()
}

func (e *Executor) send(ctx context.Context, req *model.ApiRequest, token string) *Response {
	timeout := e.writeTimeout
	if strings.EqualFold(req.Method, http.MethodGet) {
		timeout = e.readTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := e.newRequest(ctx, req, token)
	if err != nil {
		return &Response{Err: apierror.NewAPIError(apierror.ErrInvalidRequest, err.Error(), err)}
	}

	res, err := request.Send(ctx, e.client, httpReq)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"resource": req.Resource,
			"error":    err,
		}).Warn("api request failed")
		return &Response{Err: apierror.Classify(0, nil, err)}
	}

	resp := &Response{
		StatusCode: res.StatusCode,
		Raw:        res.Body,
		Err:        apierror.Classify(res.StatusCode, res.Body, nil),
	}
	resp.Body, _ = apierror.DecodeBody(res.Body)

	logrus.WithFields(logrus.Fields{
		"resource": req.Resource,
		"method":   httpReq.Method,
		"status":   res.StatusCode,
		"code":     resp.Code(),
	}).Debug("api request completed")
	return resp
}

func (e *Executor) newRequest(ctx context.Context, req *model.ApiRequest, token string) (*http.Request, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}
	endpoint := e.baseURL + strings.TrimPrefix(req.Resource, "/")

	var httpReq *http.Request
	var err error
	if method == http.MethodGet {
		u, parseErr := url.Parse(endpoint)
		if parseErr != nil {
			return nil, parseErr
		}
		query := u.Query()
		for k, v := range req.Body {
			query.Set(k, model.Stringify(v))
		}
		u.RawQuery = query.Encode()
		httpReq, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	} else {
		body := req.Body
		if body == nil {
			body = map[string]interface{}{}
		}
		payload, jsonErr := request.ToJsonReq(body)
		if jsonErr != nil {
			return nil, jsonErr
		}
		httpReq, err = http.NewRequestWithContext(ctx, method, endpoint, payload)
	}
	if err != nil {
		return nil, err
	}

	apiKey := req.ApiKey
	if apiKey == "" {
		apiKey = e.apiKey
	}
	processor := req.Processor
	if processor == "" {
		processor = model.ProcessorOnline
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Key", apiKey)
	httpReq.Header.Set("SDK-Platform", SDKPlatform)
	httpReq.Header.Set("SDK-Version", SDKVersion)
	httpReq.Header.Set("SDK-Request-Processor", processor)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

func failureReason(err error) model.AuthFailureReason {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		return model.AuthFailureReasonFromCode(apiErr.ServerCode)
	}
	return model.AuthTokenGenericError
}
