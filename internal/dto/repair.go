package dto

type PendingRepairResponse struct {
	Success bool `json:"success"`
	Updated int  `json:"updated"`
	Errors  int  `json:"errors,omitempty"`
}

type StaleRepairRequest struct {
	MessageID string `json:"message_id"`
}

type StaleRepairResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
}
