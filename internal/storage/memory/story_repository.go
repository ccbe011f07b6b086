package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

type storyRepository struct {
	access
}

func (r *storyRepository) Create(_ context.Context, story domain.Story) (domain.Story, error) {
	err := r.with(func(st *state) error {
		st.storySeq++
		story.ID = st.storySeq
		if story.CreatedAt.IsZero() {
			story.CreatedAt = time.Now().UTC()
		}
		st.stories[story.ID] = story
		return nil
	})
	return story, err
}

func (r *storyRepository) Get(_ context.Context, id int64) (domain.Story, error) {
	var story domain.Story
	err := r.with(func(st *state) error {
		s, ok := st.stories[id]
		if !ok {
			return domain.ErrStoryNotFound
		}
		story = s
		return nil
	})
	return story, err
}

func (r *storyRepository) ListOrderedByID(_ context.Context) ([]domain.Story, error) {
	var result []domain.Story
	err := r.with(func(st *state) error {
		result = make([]domain.Story, 0, len(st.stories))
		for _, s := range st.stories {
			result = append(result, s)
		}
		sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
		return nil
	})
	return result, err
}

type storyViewRepository struct {
	access
}

func (r *storyViewRepository) ListForUser(_ context.Context, userID int64) ([]domain.StoryView, error) {
	var result []domain.StoryView
	err := r.with(func(st *state) error {
		result = make([]domain.StoryView, 0)
		for _, v := range st.views {
			if v.UserID == userID {
				result = append(result, v)
			}
		}
		sort.Slice(result, func(i, j int) bool { return result[i].StoryID < result[j].StoryID })
		return nil
	})
	return result, err
}

// Create фиксирует просмотр, соблюдая уникальность пары (пользователь, история).
func (r *storyViewRepository) Create(_ context.Context, view domain.StoryView) (domain.StoryView, error) {
	err := r.with(func(st *state) error {
		if _, ok := st.stories[view.StoryID]; !ok {
			return domain.ErrStoryNotFound
		}
		if _, ok := st.users[view.UserID]; !ok {
			return domain.ErrUserNotFound
		}
		for _, existing := range st.views {
			if existing.UserID == view.UserID && existing.StoryID == view.StoryID {
				return domain.ErrStoryAlreadyViewed
			}
		}
		st.viewSeq++
		view.ID = st.viewSeq
		if view.ViewedAt.IsZero() {
			view.ViewedAt = time.Now().UTC()
		}
		st.views[view.ID] = view
		return nil
	})
	return view, err
}

type userRepository struct {
	access
}

func (r *userRepository) Get(_ context.Context, id int64) (domain.User, error) {
	var user domain.User
	err := r.with(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return domain.ErrUserNotFound
		}
		user = u
		return nil
	})
	return user, err
}

func (r *userRepository) Create(_ context.Context, user domain.User) (domain.User, error) {
	err := r.with(func(st *state) error {
		st.userSeq++
		user.ID = st.userSeq
		if user.Role == "" {
			user.Role = domain.RoleUser
		}
		st.users[user.ID] = user
		return nil
	})
	return user, err
}

var (
	_ domain.StoryRepository     = (*storyRepository)(nil)
	_ domain.StoryViewRepository = (*storyViewRepository)(nil)
	_ domain.UserRepository      = (*userRepository)(nil)
)
