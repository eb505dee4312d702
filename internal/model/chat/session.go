package chat

import "time"

// Session captures the conversation identifier issued for one widget mount.
type Session struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	CreatedAt time.Time `json:"createdAt"`
}
