package model

// User is a participant row as returned by the backend users table.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	IsOnline bool   `json:"is_online,omitempty"`
}
