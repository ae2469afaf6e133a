package database

import "time"

// User is one registered bot user, recorded on first private
// interaction. The registry feeds /stats and broadcast fan-out.
type User struct {
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Setting is one persisted runtime setting as a key/value row. Values
// are stored in their string form; the settings store owns typing.
type Setting struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}
