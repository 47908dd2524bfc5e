package domain

import "time"

// Application is a registered client application. Records are created through
// the administrative API and are read-only for the request pipeline.
type Application struct {
	ID          string
	BundleID    string
	Name        string
	ShortName   string
	FeedBaseURL string
	CreatedAt   time.Time
}
