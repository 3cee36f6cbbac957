package mailbox

import "context"

// Fields selectable on a listing. Readers that cannot project fields return
// all of them.
const (
	FieldSubject     = "subject"
	FieldFrom        = "from"
	FieldReceivedAt  = "receivedDateTime"
	FieldBody        = "body"
	FieldBodyPreview = "bodyPreview"
)

// DefaultFields is the projection used by the recovery flow.
var DefaultFields = []string{FieldSubject, FieldFrom, FieldReceivedAt, FieldBody, FieldBodyPreview}

// Reader lists the most recent inbox messages for the mailbox owning
// accessToken. Results are ordered newest first. A reader performs no retries.
type Reader interface {
	ListRecentMessages(ctx context.Context, accessToken string, count int, fields []string) ([]Message, error)
}
