package domain

type (
	RoomID string
	UserID string
)

const (
	MaxRoomIDLen = 64
	MaxUserIDLen = 64
)

// ValidateRoomID rejects ids the server would refuse to route.
func ValidateRoomID(id RoomID) error {
	if len(id) == 0 {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}

func ValidateUserID(id UserID) error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}
