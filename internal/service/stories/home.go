package stories

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

// CatalogReader: проекции каталога, которые нужны главной странице.
type CatalogReader interface {
	Listing(ctx context.Context) (domain.CatalogListing, error)
	CurrentTopMarketProduct(ctx context.Context) (domain.ProductView, error)
}

// HomePage: содержимое главной страницы.
type HomePage struct {
	Stories          []domain.FeedStory    `json:"stories"`
	TopMarketProduct *domain.ProductView   `json:"topMarketProduct"`
	Products         domain.CatalogListing `json:"products"`
}

// Home собирает главную страницу. Отсутствие текущего top-market товара не ошибка.
func (s *Service) Home(ctx context.Context, userID int64, catalog CatalogReader) (HomePage, error) {
	feed, err := s.Feed(ctx, userID)
	if err != nil {
		return HomePage{}, err
	}
	listing, err := catalog.Listing(ctx)
	if err != nil {
		return HomePage{}, err
	}

	page := HomePage{Stories: feed, Products: listing}
	top, err := catalog.CurrentTopMarketProduct(ctx)
	switch {
	case err == nil:
		page.TopMarketProduct = &top
	case errors.Is(err, domain.ErrNoCurrentTopMarket):
	default:
		return HomePage{}, err
	}
	return page, nil
}
