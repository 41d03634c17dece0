package obs

import "context"

type routeKey struct{}

// WithRoutePattern stores the matched chi route pattern for downstream
// logging and metric labels.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if pattern == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, pattern)
}

// RoutePatternFromContext returns the matched route pattern or "".
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	pattern, _ := ctx.Value(routeKey{}).(string)
	return pattern
}
