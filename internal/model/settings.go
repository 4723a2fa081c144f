package model

// QuietHours is the persisted do-not-disturb window (hours 0-23, local time).
type QuietHours struct {
	Enabled   bool `json:"enabled"`
	StartHour int  `json:"start_hour"`
	EndHour   int  `json:"end_hour"`
}

func (q QuietHours) Valid() bool {
	return q.StartHour >= 0 && q.StartHour <= 23 && q.EndHour >= 0 && q.EndHour <= 23
}
