// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package middleware

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/carelog/carelog/internal/audit"
	"github.com/carelog/carelog/internal/auth"
)

// AuditOptions tunes the automatic request auditor.
type AuditOptions struct {
	// SensitiveResources lists resources whose reads are always recorded.
	SensitiveResources []string

	// SkipPaths lists path substrings that suppress auditing entirely,
	// most importantly the audit API itself.
	SkipPaths []string

	// MaxBodyCapture caps how much of a request body is retained for the
	// modification snapshot.
	MaxBodyCapture int64
}

// DefaultAuditOptions returns the built-in lists.
func DefaultAuditOptions() *AuditOptions {
	return &AuditOptions{
		SensitiveResources: []string{"users", "patients", "appointments", "medical-records", "audit"},
		SkipPaths:          []string{"/health", "/metrics", "/documentation", "/audit", "/static", "/favicon.ico"},
		MaxBodyCapture:     64 * 1024,
	}
}

// Auditor turns each request/response pair into zero or more audit entries
// without per-route declarations. It composes three hooks sharing one
// request pass: an authentication hook for login/logout paths, a general
// request record for significant requests, and a data-modification record
// for successful authenticated mutations.
type Auditor struct {
	service   *audit.Service
	sensitive map[string]struct{}
	skipPaths []string
	maxBody   int64
}

// NewAuditor creates an auditor over the audit service.
func NewAuditor(service *audit.Service, opts *AuditOptions) *Auditor {
	if opts == nil {
		opts = DefaultAuditOptions()
	}
	sensitive := make(map[string]struct{}, len(opts.SensitiveResources))
	for _, r := range opts.SensitiveResources {
		sensitive[r] = struct{}{}
	}
	return &Auditor{
		service:   service,
		sensitive: sensitive,
		skipPaths: opts.SkipPaths,
		maxBody:   opts.MaxBodyCapture,
	}
}

// Annotation lets route code override the inferred classification. Empty
// fields keep their inferred values; SkipAudit suppresses the request
// entirely.
type Annotation struct {
	Resource   string
	Action     string
	ResourceID string
	SkipAudit  bool
}

type annotationCtxKey struct{}

// Annotate applies an annotation to the current request. It is a no-op
// outside the auditor's middleware.
func Annotate(r *http.Request, a Annotation) {
	carrier, ok := r.Context().Value(annotationCtxKey{}).(*Annotation)
	if !ok {
		return
	}
	if a.Resource != "" {
		carrier.Resource = a.Resource
	}
	if a.Action != "" {
		carrier.Action = a.Action
	}
	if a.ResourceID != "" {
		carrier.ResourceID = a.ResourceID
	}
	if a.SkipAudit {
		carrier.SkipAudit = true
	}
}

// WithAnnotation returns route middleware that applies a fixed annotation,
// the route-registration-time form of Annotate.
func WithAnnotation(a Annotation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Annotate(r, a)
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware is the request auditor. It captures what it needs before the
// handler runs and records entries after the response is written, so the
// audit write never sits on the client's critical path.
func (a *Auditor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// Only the snapshot is bounded. The handler must see the whole
		// stream, so the unread remainder stays chained behind the
		// captured prefix.
		var body []byte
		if isMutationMethod(r.Method) && r.Body != nil {
			body, _ = io.ReadAll(io.LimitReader(r.Body, a.maxBody))
			r.Body = snapshotBody{
				Reader: io.MultiReader(bytes.NewReader(body), r.Body),
				Closer: r.Body,
			}
		}

		// The carrier is injected here and mutated deeper in the chain
		// by Annotate, so overrides survive the handler's return.
		carrier := &Annotation{}
		r = r.WithContext(context.WithValue(r.Context(), annotationCtxKey{}, carrier))

		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(wrapper, r)

		a.afterResponse(r, wrapper.status, body, *carrier, time.Since(start))
	})
}

// snapshotBody replays the captured prefix before the rest of the original
// request stream.
type snapshotBody struct {
	io.Reader
	io.Closer
}

// requestMeta is the newValues payload of a general request record.
type requestMeta struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      string            `json:"query,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Status     int               `json:"status"`
	DurationMS int64             `json:"durationMs"`
}

func (a *Auditor) afterResponse(r *http.Request, status int, body []byte, ann Annotation, elapsed time.Duration) {
	actor := auth.ActorFromContext(r.Context())
	ip := ClientIP(r)
	userAgent := r.UserAgent()
	path := r.URL.Path

	// Authentication events get their own hook and nothing else: a login
	// attempt is one LOGIN/LOGIN_FAILED entry, not also an API_CREATE.
	if strings.Contains(path, "/login") {
		a.auditLogin(status, body, actor, ip, userAgent)
		return
	}
	if strings.Contains(path, "/logout") {
		if actor != nil {
			a.service.LogAuth(audit.ActionLogout, actor.ID, actor.Email, ip, userAgent)
		}
		return
	}

	if ann.SkipAudit {
		return
	}

	action := ann.Action
	if action == "" {
		action = InferAction(r.Method)
	}
	resource := ann.Resource
	if resource == "" {
		resource = InferResource(path)
	}
	resourceID := ann.ResourceID
	if resourceID == "" {
		resourceID = probeResourceID(r)
	}

	if !a.significant(action, resource) {
		return
	}

	meta, _ := json.Marshal(requestMeta{
		Method:     r.Method,
		Path:       path,
		Query:      r.URL.RawQuery,
		Params:     routeParams(r),
		Status:     status,
		DurationMS: elapsed.Milliseconds(),
	})
	general := &audit.Entry{
		IPAddress:  ip,
		UserAgent:  userAgent,
		Action:     audit.ActionPrefixAPI + action,
		Resource:   resource,
		ResourceID: resourceID,
		NewValues:  meta,
	}
	if actor != nil {
		general.UserID = actor.ID
		general.UserEmail = actor.Email
	}
	a.service.Record(general)

	// Modification record: authenticated 2xx mutations only. A rejected
	// mutation changed nothing, so there is no change to audit.
	if isMutationMethod(r.Method) && actor != nil && status >= 200 && status < 300 {
		var newValues json.RawMessage
		if len(body) > 0 && json.Valid(body) {
			newValues = body
		}
		a.service.Record(&audit.Entry{
			UserID:     actor.ID,
			UserEmail:  actor.Email,
			IPAddress:  ip,
			UserAgent:  userAgent,
			Action:     action,
			Resource:   resource,
			ResourceID: resourceID,
			NewValues:  newValues,
		})
	}
}

// auditLogin records the outcome of a login attempt. The attempted email is
// captured from the request body even on failure; a failed login carries no
// user id.
func (a *Auditor) auditLogin(status int, body []byte, actor *auth.Actor, ip, userAgent string) {
	var creds struct {
		Email string `json:"email"`
	}
	_ = json.Unmarshal(body, &creds)

	if status == http.StatusOK {
		userID := ""
		email := creds.Email
		if actor != nil {
			userID = actor.ID
			if actor.Email != "" {
				email = actor.Email
			}
		}
		a.service.LogAuth(audit.ActionLogin, userID, email, ip, userAgent)
		return
	}
	a.service.LogAuth(audit.ActionLoginFailed, "", creds.Email, ip, userAgent)
}

func (a *Auditor) skipPath(path string) bool {
	for _, skip := range a.skipPaths {
		if strings.Contains(path, skip) {
			return true
		}
	}
	return false
}

// significant reports whether an inferred classification is worth recording:
// mutations always, reads only for sensitive resources.
func (a *Auditor) significant(action, resource string) bool {
	switch action {
	case audit.ActionCreate, audit.ActionUpdate, audit.ActionDelete:
		return true
	case audit.ActionRead:
		_, ok := a.sensitive[resource]
		return ok
	default:
		return false
	}
}

func isMutationMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// InferAction maps an HTTP method to an audit action tag. Unrecognized
// methods pass through unchanged.
func InferAction(method string) string {
	switch method {
	case http.MethodPost:
		return audit.ActionCreate
	case http.MethodGet:
		return audit.ActionRead
	case http.MethodPut, http.MethodPatch:
		return audit.ActionUpdate
	case http.MethodDelete:
		return audit.ActionDelete
	default:
		return method
	}
}

// InferResource derives the resource from a request path. Paths shaped
// /api/<version>/<resource>/... yield the segment two after "api"; otherwise
// the last segment; otherwise "unknown".
func InferResource(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	for i, seg := range segments {
		if seg == "api" && i+2 < len(segments) {
			return segments[i+2]
		}
	}
	if len(segments) > 0 {
		return segments[len(segments)-1]
	}
	return "unknown"
}

// resourceIDParams is the probe order for conventional route parameters.
var resourceIDParams = []string{"id", "userId", "appointmentId", "doctorId", "patientId"}

// routeParams collects the chi route parameters bound for this request.
func routeParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || len(rctx.URLParams.Keys) == 0 {
		return nil
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

func probeResourceID(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	for _, name := range resourceIDParams {
		if v := rctx.URLParam(name); v != "" {
			return v
		}
	}
	return ""
}

// ClientIP derives the client address: first X-Forwarded-For hop, then
// X-Real-IP, then the transport peer, then the literal "unknown".
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
