package enums

// StatusSource records which writer last set a player's subscription status.
type StatusSource string

const (
	StatusSourceEngine StatusSource = "engine"
	StatusSourceAdmin  StatusSource = "admin"
)

func (s StatusSource) String() string {
	return string(s)
}
