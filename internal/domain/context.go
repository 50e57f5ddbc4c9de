package domain

import "context"

type contextKey string

const tenantKey contextKey = "tenantID"

// WithTenant returns a context scoped to the given tenant.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantFrom extracts the tenant from the context, falling back to the
// global tenant when none was set.
func TenantFrom(ctx context.Context) string {
	if id, ok := ctx.Value(tenantKey).(string); ok && id != "" {
		return id
	}
	return GlobalTenantID
}
