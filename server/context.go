package server

import "context"

type ctxKey int

const ctxKeySubject ctxKey = iota

// contextWithSubject returns a context carrying the authenticated subject.
func contextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// subjectFromContext returns the authenticated subject, if any.
func subjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxKeySubject).(string)
	return s, ok
}
