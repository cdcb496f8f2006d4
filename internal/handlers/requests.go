package handlers

// LoginRequest is the operator login body
type LoginRequest struct {
	Password string `json:"password"`
}

// SettingsUpdateRequest updates the operator-editable settings. Omitted
// fields are left unchanged.
type SettingsUpdateRequest struct {
	BaseURL    *string `json:"base_url"`
	ResultsURL *string `json:"results_url"`
}
