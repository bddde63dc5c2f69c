package auth

import "context"

type contextKey string

const (
	contextKeyUser    contextKey = "auth.user_id"
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
	contextKeySites   contextKey = "auth.site_ids"
)

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, userID int64, role Role, subject string, siteIDs []int64) context.Context {
	ctx = context.WithValue(ctx, contextKeyUser, userID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	ctx = context.WithValue(ctx, contextKeySites, siteIDs)
	return ctx
}

// UserIDFromContext extracts the acting user id from context.
func UserIDFromContext(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	if userID, ok := ctx.Value(contextKeyUser).(int64); ok {
		return userID
	}
	return 0
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(contextKeySubject).(string); ok {
		return subject
	}
	return ""
}

// SiteIDsFromContext extracts the allowed site ids from context.
func SiteIDsFromContext(ctx context.Context) []int64 {
	if ctx == nil {
		return nil
	}
	if ids, ok := ctx.Value(contextKeySites).([]int64); ok {
		return ids
	}
	return nil
}

// CanAccessSite reports whether the identity in ctx may read the site.
// Admins may read everything.
func CanAccessSite(ctx context.Context, siteID int64) bool {
	if RoleFromContext(ctx) == RoleAdmin {
		return true
	}
	for _, id := range SiteIDsFromContext(ctx) {
		if id == siteID {
			return true
		}
	}
	return false
}
