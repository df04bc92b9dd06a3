// Package tenant extracts the tenant id a request runs under.
package tenant

import (
	"context"
	"net/http"
	"strings"
)

// DefaultHeader carries the tenant id on inbound requests.
const DefaultHeader = "X-Tenant-ID"

type contextKey string

const tenantKey contextKey = "tenant"

// Extractor reads the tenant id from request headers.
type Extractor struct {
	Header   string
	Fallback string
}

// NewExtractor creates an extractor for header, using fallback when the
// header is absent. An empty header name selects DefaultHeader.
func NewExtractor(header, fallback string) *Extractor {
	if header == "" {
		header = DefaultHeader
	}
	return &Extractor{Header: header, Fallback: fallback}
}

// FromHeaders returns the tenant id from a header map with any key casing.
func (e *Extractor) FromHeaders(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, e.Header) {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return e.Fallback
}

// FromRequest returns the tenant id of an HTTP request.
func (e *Extractor) FromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(e.Header)); v != "" {
		return v
	}
	return e.Fallback
}

// Middleware stores the tenant id of each request in its context.
func (e *Extractor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithTenant(r.Context(), e.FromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithTenant returns a child context carrying id.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantKey, id)
}

// FromContext returns the tenant id stored by WithTenant.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey).(string)
	return id, ok && id != ""
}
