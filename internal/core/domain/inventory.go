package domain

// Item is one inventory line. Quantity is never negative.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// InStock reports whether at least one unit is available.
func (i Item) InStock() bool {
	return i.Quantity > 0
}
