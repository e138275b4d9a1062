package model

// GroupCount is the number of rows per group code.
type GroupCount struct {
	GroupCode string `json:"group_code"`
	Count     int64  `json:"count"`
}

// CategoryCount is the number of rows per category.
type CategoryCount struct {
	CategoryName string `json:"category_name"`
	Count        int64  `json:"count"`
}

// MultiVersionCode is a code that has carried more than one long description.
type MultiVersionCode struct {
	HCPCSCode string `json:"hcpcs_code"`
	Versions  int64  `json:"versions"`
}

// ExpiredCode is a row that was active by one date and closed before another.
type ExpiredCode struct {
	HCPCSCode     string `json:"hcpcs_code"`
	EffectiveDate *Date  `json:"effective_date,omitempty"`
	EndDate       *Date  `json:"end_date,omitempty"`
}

// RowFilter narrows row listings.
type RowFilter struct {
	Code       string
	GroupCode  string
	ActiveOnly bool
	Limit      int
}
