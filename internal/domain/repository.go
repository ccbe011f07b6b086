package domain

import "context"

// ProductRepository: хранилище каталога.
type ProductRepository interface {
	// Create сохраняет товар и возвращает его с присвоенным идентификатором.
	Create(ctx context.Context, product Product) (Product, error)
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id int64) (Product, error)
	// Delete удаляет товар вместе с его заказами.
	Delete(ctx context.Context, id int64) error
	// List возвращает товары по фильтру в порядке возрастания идентификатора.
	List(ctx context.Context, filter ProductFilter) ([]Product, error)
	// DecrementStock атомарно уменьшает остаток, только если его хватает.
	// При нехватке возвращает ErrInsufficientStock и не меняет остаток.
	DecrementStock(ctx context.Context, id, qty int64) (int64, error)
	// IncrementStock безусловно увеличивает остаток.
	IncrementStock(ctx context.Context, id, qty int64) (int64, error)
	// TopMarketCandidates возвращает top-market товары по убыванию остатка, затем по возрастанию id.
	TopMarketCandidates(ctx context.Context) ([]Product, error)
	// CurrentTopMarket возвращает текущий top-market товар или ErrNoCurrentTopMarket.
	CurrentTopMarket(ctx context.Context) (Product, error)
	// SetCurrentTopMarket одной записью назначает товар текущим (снимая флаг с остальных)
	// либо снимает флаг с него.
	SetCurrentTopMarket(ctx context.Context, id int64, current bool) error
	// LockSuccession сериализует смену текущего top-market товара до конца транзакции.
	LockSuccession(ctx context.Context) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ и возвращает его с идентификатором.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id int64) (Order, error)
	// GetForUpdate возвращает заказ и блокирует его до конца транзакции.
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	// List возвращает заказы с карточками товаров, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]OrderWithProduct, error)
	// Update перезаписывает изменяемые поля заказа.
	Update(ctx context.Context, order Order) error
	// Delete удаляет заказ. Повторное удаление возвращает ErrOrderNotFound.
	Delete(ctx context.Context, id int64) error
}

// StoryRepository: хранилище историй.
type StoryRepository interface {
	Create(ctx context.Context, story Story) (Story, error)
	Get(ctx context.Context, id int64) (Story, error)
	// ListOrderedByID возвращает все истории по возрастанию идентификатора.
	ListOrderedByID(ctx context.Context) ([]Story, error)
}

// StoryViewRepository: хранилище просмотров историй.
type StoryViewRepository interface {
	// ListForUser возвращает просмотры пользователя по возрастанию id истории.
	ListForUser(ctx context.Context, userID int64) ([]StoryView, error)
	// Create фиксирует просмотр или возвращает ErrStoryAlreadyViewed.
	Create(ctx context.Context, view StoryView) (StoryView, error)
}

// UserRepository даёт доступ на чтение к учётным записям.
type UserRepository interface {
	Get(ctx context.Context, id int64) (User, error)
	Create(ctx context.Context, user User) (User, error)
}

// Repositories: набор репозиториев, привязанных к одному соединению или транзакции.
type Repositories struct {
	Products   ProductRepository
	Orders     OrderRepository
	Stories    StoryRepository
	StoryViews StoryViewRepository
	Users      UserRepository
	Outbox     OutboxRepository
}

// Storage: хранилище с поддержкой единицы работы.
type Storage interface {
	// Repositories возвращает репозитории вне транзакции.
	Repositories() Repositories
	// Atomic выполняет fn в одной транзакции: любая ошибка откатывает все записи.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}
