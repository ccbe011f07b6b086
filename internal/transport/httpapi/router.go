// Package httpapi реализует HTTP API магазина на gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/health"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
	"github.com/vladislavdragonenkov/grocer/internal/notify"
	"github.com/vladislavdragonenkov/grocer/internal/service/catalog"
	"github.com/vladislavdragonenkov/grocer/internal/service/idempotency"
	"github.com/vladislavdragonenkov/grocer/internal/service/ordering"
	"github.com/vladislavdragonenkov/grocer/internal/service/stories"
)

const defaultHeartbeat = 25 * time.Second

// Catalog: операции каталога, доступные через HTTP.
type Catalog interface {
	CreateProduct(ctx context.Context, in catalog.CreateProductInput) (domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	CurrentTopMarketProduct(ctx context.Context) (domain.ProductView, error)
	Listing(ctx context.Context) (domain.CatalogListing, error)
	Search(ctx context.Context, name string, limit int) ([]domain.ProductView, error)
}

// Orders: операции жизненного цикла заказа.
type Orders interface {
	CreateOrder(ctx context.Context, in ordering.CreateOrderInput) (domain.Order, error)
	ListCartOrders(ctx context.Context, userID int64) ([]domain.OrderWithProduct, error)
	ListUserOrders(ctx context.Context, userID int64) ([]domain.OrderWithProduct, error)
	ListPendingAdminOrders(ctx context.Context) ([]domain.OrderWithProduct, error)
	ConfirmCheckout(ctx context.Context, userID int64, items []ordering.CheckoutItem, buyer domain.BuyerSnapshot) ([]domain.Order, error)
	DeleteOrder(ctx context.Context, orderID, userID int64) error
	ConfirmOrder(ctx context.Context, orderID int64) error
	CancelOrder(ctx context.Context, orderID int64) error
}

// Stories: лента историй и главная страница.
type Stories interface {
	Feed(ctx context.Context, userID int64) ([]domain.FeedStory, error)
	View(ctx context.Context, userID, storyID int64) (bool, error)
	CreateStory(ctx context.Context, in stories.CreateStoryInput) (domain.Story, error)
	Home(ctx context.Context, userID int64, catalog stories.CatalogReader) (stories.HomePage, error)
}

// Config: зависимости роутера. Hub, Idempotency, Health, Metrics и MetricsHandler необязательны.
type Config struct {
	Catalog        Catalog
	Orders         Orders
	Stories        Stories
	Hub            *notify.Hub
	Idempotency    *idempotency.Guard
	Health         *health.Handler
	Metrics        *metrics.HTTPMetrics
	MetricsHandler http.Handler
	Logger         *log.Entry
	// Heartbeat: период комментариев keep-alive в SSE-потоке.
	Heartbeat time.Duration
}

type handler struct {
	catalog     Catalog
	orders      Orders
	stories     Stories
	hub         *notify.Hub
	idempotency *idempotency.Guard
	logger      *log.Entry
	heartbeat   time.Duration
}

// NewRouter собирает gin.Engine со всеми маршрутами.
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	h := &handler{
		catalog:     cfg.Catalog,
		orders:      cfg.Orders,
		stories:     cfg.Stories,
		hub:         cfg.Hub,
		idempotency: cfg.Idempotency,
		logger:      logger,
		heartbeat:   heartbeat,
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), observeRequests(cfg.Metrics))

	router.GET("/healthz", gin.WrapF(health.LivenessHandler))
	if cfg.Health != nil {
		router.GET("/readyz", gin.WrapH(cfg.Health))
	}
	if cfg.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	api := router.Group("/api", identify())
	{
		api.GET("/products/top-market", h.topMarketProduct)
		api.GET("/products/search", h.searchProducts)
		api.GET("/events", h.events)
	}

	user := api.Group("", requireUser())
	{
		user.GET("/home", h.home)
		user.GET("/stories", h.feed)
		user.POST("/stories/:id/view", h.viewStory)

		user.POST("/orders", idempotent(h.idempotency), h.createOrder)
		user.GET("/orders/cart", h.cartOrders)
		user.GET("/orders", h.userOrders)
		user.PATCH("/orders/confirm", h.confirmCheckout)
		user.DELETE("/orders/:id", h.deleteOrder)
	}

	admin := api.Group("/admin", requireAdmin())
	{
		admin.GET("/orders", h.pendingOrders)
		admin.PATCH("/orders/:id/confirm", h.confirmOrder)
		admin.DELETE("/orders/:id", h.cancelOrder)
		admin.POST("/products", h.createProduct)
		admin.DELETE("/products/:id", h.deleteProduct)
		admin.POST("/stories", h.createStory)
	}

	return router
}
