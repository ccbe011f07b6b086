package stories

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
)

// Options задаёт зависимости сервиса историй.
type Options struct {
	Logger   *log.Entry
	Notifier domain.Notifier
	Metrics  *metrics.ShopMetrics
	Clock    func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithNotifier задаёт канал уведомлений.
func WithNotifier(notifier domain.Notifier) Option {
	return func(opts *Options) { opts.Notifier = notifier }
}

// WithMetrics задаёт бизнес-метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) { opts.Clock = clock }
}

// Service отдаёт ленту историй и фиксирует просмотры.
type Service struct {
	storage  domain.Storage
	notifier domain.Notifier
	metrics  *metrics.ShopMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис историй.
func NewService(storage domain.Storage, options ...Option) *Service {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "stories")
	}
	if opts.Notifier == nil {
		opts.Notifier = domain.NopNotifier{}
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		storage:  storage,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Clock,
	}
}

// Feed возвращает ленту историй пользователя.
func (s *Service) Feed(ctx context.Context, userID int64) (feed []domain.FeedStory, err error) {
	const op = "stories.feed"
	defer s.observe(op, time.Now(), &err)

	repos := s.storage.Repositories()
	all, err := repos.Stories.ListOrderedByID(ctx)
	if err != nil {
		return nil, err
	}
	views, err := repos.StoryViews.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Merge(NewStorySequence(all), NewViewHistory(userID, views), s.now()), nil
}

// View фиксирует просмотр. Возвращает false, если пользователь уже смотрел историю.
func (s *Service) View(ctx context.Context, userID, storyID int64) (first bool, err error) {
	const op = "stories.view"
	defer s.observe(op, time.Now(), &err)

	_, err = s.storage.Repositories().StoryViews.Create(ctx, domain.StoryView{
		UserID:   userID,
		StoryID:  storyID,
		ViewedAt: s.now(),
	})
	if errors.Is(err, domain.ErrStoryAlreadyViewed) {
		s.metrics.RecordStoryView(false)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.metrics.RecordStoryView(true)
	s.logger.WithFields(log.Fields{"user_id": userID, "story_id": storyID}).Debug("story viewed")
	return true, nil
}

// CreateStoryInput: данные новой истории.
type CreateStoryInput struct {
	Title       string
	Description string
	VideoURL    string
	ImageURL    string
}

// CreateStory публикует историю и сообщает о ней клиентам.
func (s *Service) CreateStory(ctx context.Context, in CreateStoryInput) (story domain.Story, err error) {
	const op = "stories.create"
	defer s.observe(op, time.Now(), &err)

	story, err = s.storage.Repositories().Stories.Create(ctx, domain.Story{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		VideoURL:    in.VideoURL,
		ImageURL:    in.ImageURL,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Story{}, err
	}
	s.notifier.Broadcast(domain.EventNewStory, story.Feed(false))
	s.logger.WithField("story_id", story.ID).Info("story created")
	return story, nil
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	s.metrics.RecordOperationDuration(op, time.Since(start))
	if *errp == nil {
		return
	}
	wrapped := domain.Internal(op, *errp)
	var opErr *domain.OperationError
	if errors.As(wrapped, &opErr) {
		s.logger.WithError(opErr.Cause).WithField("operation", op).Error("story operation failed")
	}
	*errp = wrapped
}
