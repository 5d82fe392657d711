// Package auditctx carries request origin from the HTTP layer into the signing
// services so audit events and signature records can be attributed.
package auditctx

import "context"

// Actor describes where a request came from. Subject is set only for
// authenticated operators; signatories are identified by their credentials.
type Actor struct {
	Subject   string
	RequestID string
	IPAddress string
	UserAgent string
}

type actorKey struct{}

// WithActor returns a child of ctx carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// FromContext returns the actor stored in ctx, if any.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// Annotate adds the actor's subject and request id to audit metadata under
// subjectKey and "request_id". Empty values are skipped; metadata may be nil.
func (a Actor) Annotate(metadata map[string]any, subjectKey string) map[string]any {
	if a.Subject == "" && a.RequestID == "" {
		return metadata
	}
	if metadata == nil {
		metadata = make(map[string]any, 2)
	}
	if a.Subject != "" && subjectKey != "" {
		metadata[subjectKey] = a.Subject
	}
	if a.RequestID != "" {
		metadata["request_id"] = a.RequestID
	}
	return metadata
}
