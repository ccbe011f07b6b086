package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

// state: всё содержимое in-memory хранилища. Клонируется целиком
// перед транзакцией, чтобы откат был простым восстановлением снимка.
type state struct {
	products map[int64]domain.Product
	orders   map[int64]domain.Order
	stories  map[int64]domain.Story
	views    map[int64]domain.StoryView
	users    map[int64]domain.User
	outbox   map[string]outboxRecord

	productSeq int64
	orderSeq   int64
	storySeq   int64
	viewSeq    int64
	userSeq    int64
	outboxSeq  int64
}

func newState() *state {
	return &state{
		products: make(map[int64]domain.Product),
		orders:   make(map[int64]domain.Order),
		stories:  make(map[int64]domain.Story),
		views:    make(map[int64]domain.StoryView),
		users:    make(map[int64]domain.User),
		outbox:   make(map[string]outboxRecord),
	}
}

func (s *state) clone() *state {
	dst := *s
	dst.products = cloneMap(s.products)
	dst.orders = cloneMap(s.orders)
	dst.stories = cloneMap(s.stories)
	dst.views = cloneMap(s.views)
	dst.users = cloneMap(s.users)
	dst.outbox = cloneMap(s.outbox)
	return &dst
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Store: in-memory хранилище для локальной разработки и тестов.
// Один мьютекс на всё хранилище даёт линеаризуемость операций со стоком.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{st: newState()}
}

// Repositories возвращает репозитории, каждый вызов которых атомарен сам по себе.
func (s *Store) Repositories() domain.Repositories {
	return s.repositories(nil)
}

// Atomic выполняет fn под эксклюзивной блокировкой хранилища.
// При ошибке или панике состояние восстанавливается из снимка.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
		s.mu.Unlock()
	}()

	if err := fn(ctx, s.repositories(s.st)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) repositories(tx *state) domain.Repositories {
	a := access{store: s, tx: tx}
	return domain.Repositories{
		Products:   &productRepository{access: a},
		Orders:     &orderRepository{access: a},
		Stories:    &storyRepository{access: a},
		StoryViews: &storyViewRepository{access: a},
		Users:      &userRepository{access: a},
		Outbox:     &outboxRepository{access: a},
	}
}

// access выбирает, работать ли с состоянием транзакции или брать блокировку.
type access struct {
	store *Store
	tx    *state
}

func (a access) with(fn func(st *state) error) error {
	if a.tx != nil {
		return fn(a.tx)
	}
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	return fn(a.store.st)
}

var _ domain.Storage = (*Store)(nil)
