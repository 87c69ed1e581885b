package model

// OrderResult describes what happened to a placed order: how much got filled
// against resting offers and whether a residual offer was booked for the
// rest.
type OrderResult struct {
	FilledAmount   int
	RestingOfferID *int64
	RestingAmount  int
}
