package signing

import "context"

// Dispatcher delivers a message to a signatory's contact address. A returned
// error marks the delivery as failed; it never invalidates the credential.
type Dispatcher interface {
	Send(ctx context.Context, contactAddress, message string) error
}
