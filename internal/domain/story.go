package domain

import "time"

// Story: короткая публикация с видео и обложкой.
type Story struct {
	ID          int64
	Title       string
	Description string
	VideoURL    string
	ImageURL    string
	CreatedAt   time.Time
}

// StoryView фиксирует первый просмотр истории пользователем.
// На пару (пользователь, история) допускается одна запись.
type StoryView struct {
	ID       int64
	UserID   int64
	StoryID  int64
	ViewedAt time.Time
}

// FeedStory: история в ленте с отметкой о просмотре.
type FeedStory struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	VideoURL    string `json:"videoURL"`
	ImageURL    string `json:"imageURL"`
	Viewed      bool   `json:"viewedByTheCurrentUser"`
}

// Feed возвращает проекцию истории для ленты.
func (s Story) Feed(viewed bool) FeedStory {
	return FeedStory{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		VideoURL:    s.VideoURL,
		ImageURL:    s.ImageURL,
		Viewed:      viewed,
	}
}
