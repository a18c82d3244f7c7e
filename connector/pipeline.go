package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/caremesh/ehrbridge/audit"
	"github.com/caremesh/ehrbridge/auth"
	"github.com/caremesh/ehrbridge/fhirutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// maxResponseSize bounds how much of a vendor response body is read.
const maxResponseSize = 10 * 1024 * 1024

type pipelineState string

const (
	statePreparing      pipelineState = "PREPARING"
	stateAuthenticating pipelineState = "AUTHENTICATING"
	stateSending        pipelineState = "SENDING"
	stateRetrying       pipelineState = "RETRYING"
	stateSucceeded      pipelineState = "SUCCEEDED"
	stateFailed         pipelineState = "FAILED"
)

// Operation describes one FHIR interaction to perform against the vendor.
type Operation struct {
	Verb         fhir.HTTPVerb
	ResourceType string
	ResourceID   string
	Query        url.Values
	Body         json.RawMessage
}

// RequestContext correlates the logging and audit trail of one outbound call.
// It lives for the duration of the call and is never persisted.
type RequestContext struct {
	RequestID    string
	Method       string
	ResourceType string
	ResourceID   string
	StartTime    time.Time
}

// OperationResult is the outcome of one pipeline execution: either a payload,
// or a classified failure. The RequestID is always set, for support correlation.
type OperationResult struct {
	Success        bool            `json:"success"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Classification ErrorKind       `json:"classification,omitempty"`
	HTTPStatus     int             `json:"httpStatus,omitempty"`
	VendorMessage  string          `json:"vendorMessage,omitempty"`
	RequestID      string          `json:"requestId"`
}

// Pipeline wraps every outbound vendor call with token lifecycle management,
// request stamping, response classification, the single retry-on-401, and
// audit emission. One Pipeline exists per connector and is safe for
// concurrent use; only the token refresh path serializes callers.
type Pipeline struct {
	vendorID   string
	baseURL    *url.URL
	httpClient *http.Client
	headers    http.Header
	tokens     *tokenHolder
	source     TokenSource
	sink       audit.Sink
	nowFunc    func() time.Time
}

func NewPipeline(vendorID string, baseURL *url.URL, httpClient *http.Client, headers http.Header, source TokenSource, sink audit.Sink) *Pipeline {
	return &Pipeline{
		vendorID:   vendorID,
		baseURL:    baseURL,
		httpClient: httpClient,
		headers:    headers,
		tokens:     &tokenHolder{},
		source:     source,
		sink:       sink,
		nowFunc:    time.Now,
	}
}

// Execute runs the per-call state machine:
//
//	PREPARING -> AUTHENTICATING (when the token is expired or missing)
//	          -> SENDING -> SUCCEEDED
//	                     -> RETRYING -> SENDING (exactly once, on a 401)
//	                     -> FAILED
//
// Exactly one audit event is emitted per call, reflecting the terminal state.
func (p *Pipeline) Execute(ctx context.Context, op Operation) OperationResult {
	reqCtx := RequestContext{
		RequestID:    uuid.NewString(),
		Method:       op.Verb.Code(),
		ResourceType: op.ResourceType,
		ResourceID:   op.ResourceID,
		StartTime:    p.nowFunc(),
	}
	ctx = log.Ctx(ctx).With().
		Str("vendor", p.vendorID).
		Str("request_id", reqCtx.RequestID).
		Logger().WithContext(ctx)

	result := p.run(ctx, reqCtx, op)
	result.RequestID = reqCtx.RequestID
	p.emitAudit(ctx, reqCtx, op, result)
	return result
}

func (p *Pipeline) run(ctx context.Context, reqCtx RequestContext, op Operation) OperationResult {
	p.logTransition(ctx, reqCtx, statePreparing, 0)

	token, refreshed, err := p.tokens.ensure(ctx, p.source, p.nowFunc, false, TokenState{})
	if refreshed {
		p.logTransition(ctx, reqCtx, stateAuthenticating, 0)
	}
	if err != nil {
		// The call is never sent without a token attempt.
		return p.failure(ctx, reqCtx, err)
	}

	for attempt := 0; ; attempt++ {
		p.logTransition(ctx, reqCtx, stateSending, 0)
		statusCode, responseBody, err := p.send(ctx, reqCtx, op, token)
		if err != nil {
			return p.failure(ctx, reqCtx, err)
		}
		p.logTransition(ctx, reqCtx, stateSending, statusCode)

		if statusCode >= 200 && statusCode < 300 {
			p.logTransition(ctx, reqCtx, stateSucceeded, statusCode)
			return OperationResult{Success: true, Payload: responseBody}
		}

		if statusCode == http.StatusUnauthorized && attempt == 0 {
			// The token was judged valid but the vendor rejected it: force a
			// refresh and retry exactly once.
			p.logTransition(ctx, reqCtx, stateRetrying, statusCode)
			token, _, err = p.tokens.ensure(ctx, p.source, p.nowFunc, true, token)
			if err != nil {
				return p.failure(ctx, reqCtx, err)
			}
			continue
		}

		return p.failure(ctx, reqCtx, &ClassifiedError{
			Kind:       classifyStatus(statusCode),
			HTTPStatus: statusCode,
			Message:    fhirutil.VendorMessage(responseBody, statusCode),
		})
	}
}

// send issues a single HTTP call. The request is stamped with the request ID
// and the vendor's default headers; the bearer token is attached last.
func (p *Pipeline) send(ctx context.Context, reqCtx RequestContext, op Operation, token TokenState) (int, []byte, error) {
	target := p.baseURL.JoinPath(op.ResourceType)
	if op.ResourceID != "" {
		target = target.JoinPath(op.ResourceID)
	}
	if len(op.Query) > 0 {
		target.RawQuery = op.Query.Encode()
	}

	var body io.Reader
	if len(op.Body) > 0 {
		body = bytes.NewReader(op.Body)
	}
	req, err := http.NewRequestWithContext(ctx, reqCtx.Method, target.String(), body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/fhir+json")
	if len(op.Body) > 0 {
		req.Header.Set("Content-Type", "application/fhir+json")
	}
	for name, values := range p.headers {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	req.Header.Set("X-Request-ID", reqCtx.RequestID)
	token.setAuthHeader(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return 0, nil, &ClassifiedError{
				Kind:    ErrorKindTimeout,
				Message: "vendor did not respond within the configured timeout",
			}
		}
		return 0, nil, &ClassifiedError{
			Kind:    ErrorKindVendorUnavailable,
			Message: "vendor unreachable",
		}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, &ClassifiedError{
			Kind:    ErrorKindVendorUnavailable,
			Message: "reading vendor response failed",
		}
	}
	return resp.StatusCode, responseBody, nil
}

func (p *Pipeline) failure(ctx context.Context, reqCtx RequestContext, err error) OperationResult {
	var classified *ClassifiedError
	if !errors.As(err, &classified) {
		classified = &ClassifiedError{
			Kind:    ErrorKindVendorUnavailable,
			Message: err.Error(),
		}
	}
	p.logTransition(ctx, reqCtx, stateFailed, classified.HTTPStatus)
	return OperationResult{
		Success:        false,
		Classification: classified.Kind,
		HTTPStatus:     classified.HTTPStatus,
		VendorMessage:  classified.Message,
	}
}

// logTransition logs a pipeline state change. Request and response bodies are
// never logged; search parameters are masked before the URL would be.
func (p *Pipeline) logTransition(ctx context.Context, reqCtx RequestContext, state pipelineState, statusCode int) {
	event := log.Ctx(ctx).Debug().
		Str("state", string(state)).
		Str("method", reqCtx.Method).
		Str("resource_type", reqCtx.ResourceType).
		Dur("duration", p.nowFunc().Sub(reqCtx.StartTime))
	if statusCode > 0 {
		event = event.Int("status", statusCode)
	}
	event.Msg("Pipeline transition")
}

func (p *Pipeline) emitAudit(ctx context.Context, reqCtx RequestContext, op Operation, result OperationResult) {
	actorID := "system"
	if caller, err := auth.CallerFromContext(ctx); err == nil && caller.ActorID != "" {
		actorID = caller.ActorID
	}
	outcome := fhir.AuditEventOutcome0
	if !result.Success {
		outcome = fhir.AuditEventOutcome4
		if result.Classification == ErrorKindVendorUnavailable || result.Classification == ErrorKindTimeout {
			outcome = fhir.AuditEventOutcome8
		}
	}
	p.sink.Record(ctx, audit.Event{
		EventType:    audit.EventTypeRest,
		ActorID:      actorID,
		ResourceType: reqCtx.ResourceType,
		ResourceID:   reqCtx.ResourceID,
		Action:       auditAction(op.Verb),
		Outcome:      outcome,
		RequestID:    reqCtx.RequestID,
		Timestamp:    p.nowFunc(),
	})
}

func auditAction(verb fhir.HTTPVerb) fhir.AuditEventAction {
	switch verb {
	case fhir.HTTPVerbPOST:
		return fhir.AuditEventActionC
	case fhir.HTTPVerbPUT, fhir.HTTPVerbPATCH:
		return fhir.AuditEventActionU
	case fhir.HTTPVerbDELETE:
		return fhir.AuditEventActionD
	default:
		return fhir.AuditEventActionR
	}
}

func classifyStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusUnauthorized:
		return ErrorKindAuthFailure
	case statusCode == http.StatusNotFound:
		return ErrorKindNotFound
	case statusCode >= 400 && statusCode < 500:
		return ErrorKindVendorRejected
	default:
		return ErrorKindVendorUnavailable
	}
}
