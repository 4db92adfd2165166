package shared

// ListFilters groups the query-string filters shared by list endpoints.
type ListFilters struct {
	Search  string
	Status  string
	StoreID int64
	From    string
	To      string
	Limit   int
	Offset  int
}

// Clamp applies listing defaults.
func (f *ListFilters) Clamp() {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
