package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/service/catalog"
	"github.com/vladislavdragonenkov/grocer/internal/service/ordering"
	"github.com/vladislavdragonenkov/grocer/internal/service/stories"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

func positiveID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func (h *handler) pathID(c *gin.Context) (int64, bool) {
	id, ok := positiveID(c.Param("id"))
	if !ok {
		badRequest(c, "id must be a positive integer")
	}
	return id, ok
}

func (h *handler) home(c *gin.Context) {
	uid, _ := userID(c)
	page, err := h.stories.Home(c.Request.Context(), uid, h.catalog)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handler) feed(c *gin.Context) {
	uid, _ := userID(c)
	feed, err := h.stories.Feed(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

func (h *handler) viewStory(c *gin.Context) {
	storyID, ok := h.pathID(c)
	if !ok {
		return
	}
	uid, _ := userID(c)

	first, err := h.stories.View(c.Request.Context(), uid, storyID)
	if err != nil {
		h.fail(c, err)
		return
	}
	message := "Story viewed"
	if !first {
		message = "Story already viewed"
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "id": storyID, "firstView": first})
}

func (h *handler) topMarketProduct(c *gin.Context) {
	view, err := h.catalog.CurrentTopMarketProduct(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) searchProducts(c *gin.Context) {
	limit := defaultSearchLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxSearchLimit)
	}

	views, err := h.catalog.Search(c.Request.Context(), c.Query("name"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *handler) createOrder(c *gin.Context) {
	productID, ok := positiveID(c.Query("productId"))
	if !ok {
		badRequest(c, "productId must be a positive integer")
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	uid, _ := userID(c)

	order, err := h.orders.CreateOrder(c.Request.Context(), ordering.CreateOrderInput{
		UserID:     uid,
		ProductID:  productID,
		Quantity:   req.Quantity,
		TotalPrice: req.TotalPrice,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, messageResponse{Message: "Order created", ID: order.ID})
}

func (h *handler) cartOrders(c *gin.Context) {
	uid, _ := userID(c)
	orders, err := h.orders.ListCartOrders(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponses(orders))
}

func (h *handler) userOrders(c *gin.Context) {
	uid, _ := userID(c)
	orders, err := h.orders.ListUserOrders(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponses(orders))
}

func (h *handler) confirmCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	uid, _ := userID(c)

	items := make([]ordering.CheckoutItem, 0, len(req.Orders))
	for _, item := range req.Orders {
		items = append(items, ordering.CheckoutItem{
			OrderID:    item.ID,
			Quantity:   item.Quantity,
			TotalPrice: item.TotalPrice,
		})
	}

	confirmed, err := h.orders.ConfirmCheckout(c.Request.Context(), uid, items, domain.BuyerSnapshot{
		Name:            req.BuyerName,
		Phone:           req.PhoneNumber,
		ShipmentAddress: req.ShipmentAddress,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	ids := make([]int64, 0, len(confirmed))
	for _, order := range confirmed {
		ids = append(ids, order.ID)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Orders confirmed", "ids": ids})
}

func (h *handler) deleteOrder(c *gin.Context) {
	orderID, ok := h.pathID(c)
	if !ok {
		return
	}
	uid, _ := userID(c)
	if err := h.orders.DeleteOrder(c.Request.Context(), orderID, uid); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Order deleted", ID: orderID})
}

func (h *handler) pendingOrders(c *gin.Context) {
	orders, err := h.orders.ListPendingAdminOrders(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponses(orders))
}

func (h *handler) confirmOrder(c *gin.Context) {
	orderID, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.orders.ConfirmOrder(c.Request.Context(), orderID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Order confirmed", ID: orderID})
}

func (h *handler) cancelOrder(c *gin.Context) {
	orderID, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.orders.CancelOrder(c.Request.Context(), orderID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Order canceled", ID: orderID})
}

func (h *handler) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), catalog.CreateProductInput{
		Name:        req.Name,
		Category:    req.Category,
		Price:       req.Price,
		Description: req.Description,
		Stock:       req.Stock,
		IsTopMarket: req.IsTopMarket,
		Images:      req.Images,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, product.View())
}

func (h *handler) deleteProduct(c *gin.Context) {
	productID, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteProduct(c.Request.Context(), productID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Product deleted", ID: productID})
}

func (h *handler) createStory(c *gin.Context) {
	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	story, err := h.stories.CreateStory(c.Request.Context(), stories.CreateStoryInput{
		Title:       req.Title,
		Description: req.Description,
		VideoURL:    req.VideoURL,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, story.Feed(false))
}
