package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
	"github.com/vladislavdragonenkov/grocer/internal/notify"
	"github.com/vladislavdragonenkov/grocer/internal/service/catalog"
	"github.com/vladislavdragonenkov/grocer/internal/service/idempotency"
	"github.com/vladislavdragonenkov/grocer/internal/service/ordering"
	"github.com/vladislavdragonenkov/grocer/internal/service/stories"
	"github.com/vladislavdragonenkov/grocer/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type RouterSuite struct {
	suite.Suite

	ctx      context.Context
	store    *memory.Store
	hub      *notify.Hub
	registry *prometheus.Registry
	router   *gin.Engine

	user  domain.User
	apple domain.Product
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.registry = prometheus.NewRegistry()
	shopMetrics := metrics.NewShopMetricsWithRegisterer(s.registry)
	s.hub = notify.NewHub(4, shopMetrics, nil)

	catalogSvc := catalog.NewService(s.store, catalog.WithNotifier(s.hub))
	s.router = NewRouter(Config{
		Catalog:     catalogSvc,
		Orders:      ordering.NewManager(s.store, catalogSvc, ordering.WithNotifier(s.hub)),
		Stories:     stories.NewService(s.store, stories.WithNotifier(s.hub)),
		Hub:         s.hub,
		Idempotency: idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil),
		Metrics:     metrics.NewHTTPMetrics(s.registry),
		Heartbeat:   10 * time.Millisecond,
	})

	repos := s.store.Repositories()
	var err error
	s.user, err = repos.Users.Create(s.ctx, domain.User{Name: "Ann", Phone: "+100", Address: "Street 1"})
	s.Require().NoError(err)
	s.apple, err = repos.Products.Create(s.ctx, domain.Product{
		Name: "Apple", Category: "fruits", Price: decimal.NewFromInt(2), Stock: 10,
	})
	s.Require().NoError(err)
}

func (s *RouterSuite) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) asUser() map[string]string {
	return map[string]string{HeaderUserID: strconv.FormatInt(s.user.ID, 10)}
}

func (s *RouterSuite) asAdmin() map[string]string {
	return map[string]string{HeaderUserID: strconv.FormatInt(s.user.ID, 10), HeaderUserRole: RoleAdmin}
}

func (s *RouterSuite) createOrder(qty int) int64 {
	path := "/api/orders?productId=" + strconv.FormatInt(s.apple.ID, 10)
	rec := s.do(http.MethodPost, path, `{"quantity":`+strconv.Itoa(qty)+`,"totalPrice":"4"}`, s.asUser())
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp messageResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func (s *RouterSuite) TestUserRoutesRequireIdentity() {
	rec := s.do(http.MethodGet, "/api/orders/cart", "", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/orders/cart", "", map[string]string{HeaderUserID: "abc"})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterSuite) TestAdminRoutesRequireRole() {
	rec := s.do(http.MethodPost, "/api/admin/products", `{"name":"Pear"}`, s.asUser())
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Contains(rec.Body.String(), "admin role required")
}

func (s *RouterSuite) TestCartCheckoutAndAdminConfirm() {
	orderID := s.createOrder(2)

	rec := s.do(http.MethodGet, "/api/orders/cart", "", s.asUser())
	s.Require().Equal(http.StatusOK, rec.Code)
	var cart []orderResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &cart))
	s.Require().Len(cart, 1)
	s.Equal(domain.OrderStateCart, cart[0].State)
	s.Equal("Apple", cart[0].Product.Name)

	body := `{"orders":[{"id":` + strconv.FormatInt(orderID, 10) + `,"quantity":3,"totalPrice":"6"}]}`
	rec = s.do(http.MethodPatch, "/api/orders/confirm", body, s.asUser())
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/admin/orders", "", s.asAdmin())
	s.Require().Equal(http.StatusOK, rec.Code)
	var pending []orderResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &pending))
	s.Require().Len(pending, 1)
	s.Equal(int64(3), pending[0].Quantity)
	s.Equal("Ann", pending[0].BuyerName)
	s.Equal("Street 1", pending[0].ShipmentAddress)

	rec = s.do(http.MethodPatch, "/api/admin/orders/"+strconv.FormatInt(orderID, 10)+"/confirm", "", s.asAdmin())
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPatch, "/api/admin/orders/"+strconv.FormatInt(orderID, 10)+"/confirm", "", s.asAdmin())
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *RouterSuite) TestErrorMapping() {
	rec := s.do(http.MethodPost, "/api/orders?productId=404", `{"quantity":1}`, s.asUser())
	s.Equal(http.StatusNotFound, rec.Code)

	durian, err := s.store.Repositories().Products.Create(s.ctx, domain.Product{
		Name: "Durian", Stock: 1, IsTopMarket: true, IsCurrentTopMarket: true,
	})
	s.Require().NoError(err)
	rec = s.do(http.MethodPost, "/api/orders?productId="+strconv.FormatInt(durian.ID, 10), `{"quantity":100}`, s.asUser())
	s.Equal(http.StatusConflict, rec.Code)
	s.Contains(rec.Body.String(), "insufficient stock")

	rec = s.do(http.MethodPost, "/api/orders?productId=abc", `{"quantity":1}`, s.asUser())
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, "/api/orders/zero", "", s.asUser())
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/products/search?limit=-1", "", nil)
	s.Equal(http.StatusBadRequest, rec.Code)

}

func (s *RouterSuite) TestDeleteForeignOrderIsUnauthorized() {
	orderID := s.createOrder(1)
	other, err := s.store.Repositories().Users.Create(s.ctx, domain.User{Name: "Bob"})
	s.Require().NoError(err)

	rec := s.do(http.MethodDelete, "/api/orders/"+strconv.FormatInt(orderID, 10), "",
		map[string]string{HeaderUserID: strconv.FormatInt(other.ID, 10)})
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodDelete, "/api/orders/"+strconv.FormatInt(orderID, 10), "", s.asUser())
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestCreateOrderIdempotency() {
	path := "/api/orders?productId=" + strconv.FormatInt(s.apple.ID, 10)
	headers := s.asUser()
	headers[HeaderIdempotencyKey] = "key-1"

	first := s.do(http.MethodPost, path, `{"quantity":1}`, headers)
	s.Require().Equal(http.StatusCreated, first.Code)

	replay := s.do(http.MethodPost, path, `{"quantity":1}`, headers)
	s.Equal(http.StatusCreated, replay.Code)
	s.Equal("true", replay.Header().Get(HeaderReplayed))
	s.JSONEq(first.Body.String(), replay.Body.String())

	mismatch := s.do(http.MethodPost, path, `{"quantity":2}`, headers)
	s.Equal(http.StatusUnprocessableEntity, mismatch.Code)

	rec := s.do(http.MethodGet, "/api/orders/cart", "", s.asUser())
	var cart []orderResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &cart))
	s.Len(cart, 1)
}

func (s *RouterSuite) TestAdminCatalogAndStories() {
	rec := s.do(http.MethodGet, "/api/products/top-market", "", nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/products",
		`{"name":"Durian","category":"fruits","price":"9.5","stock":3,"isTopMarketProduct":true,"images":["d.png"]}`, s.asAdmin())
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/products/top-market", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Durian")

	rec = s.do(http.MethodPost, "/api/admin/stories", `{"title":"Harvest","imageURL":"h.png"}`, s.asAdmin())
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var story domain.FeedStory
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &story))

	viewPath := "/api/stories/" + strconv.FormatInt(story.ID, 10) + "/view"
	rec = s.do(http.MethodPost, viewPath, "", s.asUser())
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"firstView":true`)
	rec = s.do(http.MethodPost, viewPath, "", s.asUser())
	s.Contains(rec.Body.String(), `"firstView":false`)

	rec = s.do(http.MethodGet, "/api/home", "", s.asUser())
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Harvest")
	s.Contains(rec.Body.String(), "Apple")
}

func (s *RouterSuite) TestRequestsAreObserved() {
	s.do(http.MethodGet, "/api/orders/cart", "", s.asUser())
	s.do(http.MethodGet, "/missing", "", nil)

	count, err := testutil.GatherAndCount(s.registry, "grocer_http_requests_total")
	s.Require().NoError(err)
	s.Equal(2, count)
}

func (s *RouterSuite) TestEventsStreamDeliversBroadcasts() {
	ctx, cancel := context.WithCancel(s.ctx)
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := newCloseNotifyRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.router.ServeHTTP(rec, req)
	}()

	s.Require().Eventually(func() bool { return s.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	s.hub.Broadcast(domain.EventNewStory, map[string]string{"title": "Harvest"})
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.FailNow("events stream did not stop after cancel")
	}
	s.Equal(0, s.hub.Subscribers())
	s.Contains(rec.Body.String(), "event:"+domain.EventNewStory)
	s.Contains(rec.Body.String(), "Harvest")
}

// closeNotifyRecorder mirrors gin's unexported test recorder: gin's Stream
// needs an http.CloseNotifier, which httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closeChannel chan bool
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool {
	return r.closeChannel
}

func newCloseNotifyRecorder() *closeNotifyRecorder {
	return &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool, 1)}
}

func TestEventsWithoutHub(t *testing.T) {
	router := NewRouter(Config{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrOrderNotFound:                        http.StatusNotFound,
		domain.ErrNotOrderOwner:                        http.StatusUnauthorized,
		domain.ErrOrderNotPending:                      http.StatusConflict,
		domain.Internal("orders.create", context.Canceled): http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
