package stories

import (
	"sort"
	"time"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

// ViewedWindowDays: сколько полных суток просмотренная история остаётся в ленте.
const ViewedWindowDays = 7

// StorySequence: истории, упорядоченные по возрастанию идентификатора.
// Создаётся только через NewStorySequence, поэтому Merge может полагаться на порядок.
type StorySequence struct {
	stories []domain.Story
}

// NewStorySequence копирует и сортирует истории.
func NewStorySequence(stories []domain.Story) StorySequence {
	sorted := make([]domain.Story, len(stories))
	copy(sorted, stories)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return StorySequence{stories: sorted}
}

// Len возвращает число историй.
func (s StorySequence) Len() int { return len(s.stories) }

// ViewHistory: просмотры одного пользователя по возрастанию id истории.
type ViewHistory struct {
	userID int64
	views  []domain.StoryView
}

// NewViewHistory оставляет просмотры пользователя userID и сортирует их по id истории.
func NewViewHistory(userID int64, views []domain.StoryView) ViewHistory {
	own := make([]domain.StoryView, 0, len(views))
	for _, v := range views {
		if v.UserID == userID {
			own = append(own, v)
		}
	}
	sort.SliceStable(own, func(i, j int) bool { return own[i].StoryID < own[j].StoryID })
	return ViewHistory{userID: userID, views: own}
}

// UserID возвращает владельца истории просмотров.
func (h ViewHistory) UserID() int64 { return h.userID }

// Merge строит ленту: сначала непросмотренные истории по возрастанию id,
// затем просмотренные не позже ViewedWindowDays суток назад, в порядке просмотров.
// Просмотры удалённых историй пропускаются.
func Merge(seq StorySequence, history ViewHistory, now time.Time) []domain.FeedStory {
	feed := make([]domain.FeedStory, 0, len(seq.stories))

	views := history.views
	v := 0
	for _, story := range seq.stories {
		for v < len(views) && views[v].StoryID < story.ID {
			v++
		}
		if v < len(views) && views[v].StoryID == story.ID {
			v++
			continue
		}
		feed = append(feed, story.Feed(false))
	}

	if len(views) == 0 {
		return feed
	}

	byID := make(map[int64]domain.Story, len(seq.stories))
	for _, story := range seq.stories {
		byID[story.ID] = story
	}
	for _, view := range views {
		if !withinWindow(view.ViewedAt, now) {
			continue
		}
		story, ok := byID[view.StoryID]
		if !ok {
			continue
		}
		feed = append(feed, story.Feed(true))
	}
	return feed
}

func withinWindow(viewedAt, now time.Time) bool {
	days := int64(now.Sub(viewedAt) / (24 * time.Hour))
	return days < ViewedWindowDays
}
