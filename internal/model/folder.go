package model

// Folder groups documents. Count, Size and ModifiedDate are denormalized
// aggregates maintained by reporting queries, not enforced invariants.
type Folder struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Color        string `json:"color,omitempty"`
	ModifiedDate int64  `json:"modifiedDate,omitempty"`
	Count        int    `json:"count,omitempty"`
	Size         int64  `json:"size,omitempty"`
}
