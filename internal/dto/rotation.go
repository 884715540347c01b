package dto

type RotationResponse struct {
	Success          bool `json:"success"`
	Updated          int  `json:"updated"`
	Errors           int  `json:"errors"`
	HasOlderMessages bool `json:"has_older_messages"`
	RecentDays       int  `json:"recent_days"`
}
