package models

import "time"

// NewsArticle represents a news headline. Articles are immutable once fetched.
type NewsArticle struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Timestamp   int64     `json:"timestamp"`
	Time        string    `json:"time"`
	URL         string    `json:"url"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"image_url,omitempty"`
}
