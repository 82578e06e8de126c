package leads

import "errors"

var (
	// ErrLeadNotFound indicates no lead exists for the given remotejid.
	ErrLeadNotFound = errors.New("leads: lead not found")

	// ErrInvalidJID indicates the remotejid is not a valid WhatsApp user handle.
	ErrInvalidJID = errors.New("leads: invalid remotejid")
)
