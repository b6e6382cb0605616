package models

import "time"

// Session represents one completed automated test/playtest run.
// Sessions are produced upstream (crash parser, playtest AI, manual QA
// entry); the engine only consumes id, name and creation time.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
