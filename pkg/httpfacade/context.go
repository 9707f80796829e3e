package httpfacade

import "context"

func contextWithCreds(ctx context.Context, user, password string) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds{user: user, password: password})
}

func credsFromContext(ctx context.Context) (creds, bool) {
	c, ok := ctx.Value(credentialsKey{}).(creds)
	return c, ok
}
