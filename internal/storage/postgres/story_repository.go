package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

type storyRepository struct {
	db dbtx
}

func (r *storyRepository) Create(ctx context.Context, story domain.Story) (domain.Story, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO stories (title, description, video_url, image_url, created_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, story.Title, story.Description, story.VideoURL, story.ImageURL, story.CreatedAt).Scan(&story.ID)
	if err != nil {
		return domain.Story{}, fmt.Errorf("insert story: %w", err)
	}
	return story, nil
}

func (r *storyRepository) Get(ctx context.Context, id int64) (domain.Story, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var s domain.Story
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, description, video_url, image_url, created_at
		FROM stories
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Title, &s.Description, &s.VideoURL, &s.ImageURL, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Story{}, domain.ErrStoryNotFound
		}
		return domain.Story{}, fmt.Errorf("select story: %w", err)
	}
	return s, nil
}

func (r *storyRepository) ListOrderedByID(ctx context.Context) ([]domain.Story, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, description, video_url, image_url, created_at
		FROM stories
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	stories := make([]domain.Story, 0)
	for rows.Next() {
		var s domain.Story
		if err := rows.Scan(&s.ID, &s.Title, &s.Description, &s.VideoURL, &s.ImageURL, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan story row: %w", err)
		}
		stories = append(stories, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story rows: %w", err)
	}
	return stories, nil
}

type storyViewRepository struct {
	db dbtx
}

func (r *storyViewRepository) ListForUser(ctx context.Context, userID int64) ([]domain.StoryView, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, story_id, viewed_at
		FROM story_views
		WHERE user_id = $1
		ORDER BY story_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list story views: %w", err)
	}
	defer rows.Close()

	views := make([]domain.StoryView, 0)
	for rows.Next() {
		var v domain.StoryView
		if err := rows.Scan(&v.ID, &v.UserID, &v.StoryID, &v.ViewedAt); err != nil {
			return nil, fmt.Errorf("scan story view row: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story view rows: %w", err)
	}
	return views, nil
}

// Create вставляет просмотр; конфликт по (user_id, story_id) означает повторный просмотр.
func (r *storyViewRepository) Create(ctx context.Context, view domain.StoryView) (domain.StoryView, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if view.ViewedAt.IsZero() {
		view.ViewedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO story_views (user_id, story_id, viewed_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (user_id, story_id) DO NOTHING
		RETURNING id
	`, view.UserID, view.StoryID, view.ViewedAt).Scan(&view.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StoryView{}, domain.ErrStoryAlreadyViewed
		}
		if constraint, ok := isForeignKeyViolation(err); ok {
			if strings.Contains(constraint, "user") {
				return domain.StoryView{}, domain.ErrUserNotFound
			}
			return domain.StoryView{}, domain.ErrStoryNotFound
		}
		return domain.StoryView{}, fmt.Errorf("insert story view: %w", err)
	}
	return view, nil
}

type userRepository struct {
	db dbtx
}

func (r *userRepository) Get(ctx context.Context, id int64) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		u    domain.User
		role string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, role, confirmed_by_admin
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Phone, &u.Address, &role, &u.ConfirmedByAdmin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	u.Role = domain.Role(role)
	return u, nil
}

func (r *userRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (name, phone, address, role, confirmed_by_admin)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, user.Name, user.Phone, user.Address, string(user.Role), user.ConfirmedByAdmin).Scan(&user.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

var (
	_ domain.StoryRepository     = (*storyRepository)(nil)
	_ domain.StoryViewRepository = (*storyViewRepository)(nil)
	_ domain.UserRepository      = (*userRepository)(nil)
)
