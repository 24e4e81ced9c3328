package model

// Category is one entry of the platform's category catalog.
type Category struct {
	ID     string
	Title  string
	Parent string // empty for top-level categories
}

// Qualified returns the category title in "Parent > Child" form when a
// parent exists, otherwise the bare title.
func (c Category) Qualified() string {
	if c.Parent == "" {
		return c.Title
	}
	return c.Parent + " > " + c.Title
}
