package domain

// CallResult is what the voice provider reports after accepting a call request.
// Acceptance says nothing about delivery: no confirmation channel exists.
type CallResult struct {
	CallID      string `json:"call_id"`
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
}
