package domain

import "time"

type RoomStatus string

const (
	StatusLobby      RoomStatus = "LOBBY"
	StatusInProgress RoomStatus = "IN_PROGRESS"
)

// RoomRecord is the durable side of a room.
type RoomRecord struct {
	ID           RoomID     `json:"id"`
	Code         string     `json:"code"`
	Status       RoomStatus `json:"status"`
	Participants []string   `json:"participants"`
	Story        string     `json:"story"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
