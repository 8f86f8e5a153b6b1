package models

import (
	"time"

	"github.com/google/uuid"
)

// Comment is a free-text note attached to any Commentable record.
// Stored in comments table.
type Comment struct {
	ID              uuid.UUID  `json:"id"`
	CommentableType string     `json:"commentable_type"`
	CommentableID   uuid.UUID  `json:"commentable_id"`
	Title           string     `json:"title,omitempty"`
	Comment         string     `json:"comment"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
