package domain

// CartLine is one line of a buyer's cart, owned by the cart subsystem.
type CartLine struct {
	CartItemID string
	EventID    string
	ZoneID     string
	Quantity   int
}

// Cart groups the lines a user wants to hold together.
type Cart struct {
	ID     string
	UserID string
	Lines  []CartLine
}
