package models

type Room struct {
	ID               FlexID    `json:"id"`
	Name             string    `json:"name"`
	CreatedBy        string    `json:"created_by"`
	ParticipantCount int       `json:"participants_count"`
	IsAdmin          bool      `json:"is_admin"`
	LastMessage      string    `json:"last_message,omitempty"`
	LastMessageTime  Timestamp `json:"last_message_time,omitempty"`
	CreatedAt        Timestamp `json:"created_at"`
	UpdatedAt        Timestamp `json:"updated_at"`
}

type Participant struct {
	Username string    `json:"username"`
	IsAdmin  bool      `json:"is_admin"`
	JoinedAt Timestamp `json:"joined_at"`
}

type Friend struct {
	Username  string    `json:"username"`
	CreatedAt Timestamp `json:"created_at,omitempty"`
}

type CreateRoomRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type AddFriendRequest struct {
	Username string `json:"username"`
}
