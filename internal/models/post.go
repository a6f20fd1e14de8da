package models

import "time"

// Post is one uploaded photo with its comment
type Post struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment"`
	Name      string    `json:"name"`
}
