package auth

import "context"

type bearerKey struct{}

// WithBearer adds a verified bearer token to the context.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey{}, token)
}

// Bearer retrieves the bearer token stored by WithBearer.
func Bearer(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerKey{}).(string)
	return token, ok && token != ""
}

// ForwardedBearer passes the caller's verified token on to downstream services.
// Contexts without a token yield an empty token, which callers send anonymously.
type ForwardedBearer struct{}

func (ForwardedBearer) Token(ctx context.Context) (string, error) {
	token, _ := Bearer(ctx)
	return token, nil
}
