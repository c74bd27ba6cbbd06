package model

import (
	"time"
)

type User struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	Username  string    `db:"username"`
	Timezone  string    `db:"timezone"` // IANA name, read at scheduling time
	CreatedAt time.Time `db:"created_at"`
}

type Follow struct {
	FollowerID string    `db:"follower_id"`
	FollowedID string    `db:"followed_id"`
	CreatedAt  time.Time `db:"created_at"`
}
