package auth

import "context"

type subjectKey struct{}

// WithSubject stores the authenticated subject in ctx.
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}

// Require checks that ctx carries a subject holding perms. It always passes
// when authentication is disabled.
func (s *Service) Require(ctx context.Context, perms ...string) (*Subject, error) {
	if !s.Enabled() {
		return SubjectFromContext(ctx), nil
	}
	subject := SubjectFromContext(ctx)
	if subject == nil {
		return nil, ErrMissingToken
	}
	if err := subject.Authorize(perms...); err != nil {
		return nil, err
	}
	return subject, nil
}
