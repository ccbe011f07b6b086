package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestProductViewCopiesImages(t *testing.T) {
	product := Product{ID: 1, Name: "Apple", Price: decimal.RequireFromString("2.50"), Images: []string{"a.png"}}

	view := product.View()
	view.Images[0] = "changed.png"
	require.Equal(t, "a.png", product.Images[0])

	summary := product.Summary()
	summary.Images[0] = "changed.png"
	require.Equal(t, "a.png", product.Images[0])
}

func TestProductValidateInvariants(t *testing.T) {
	require.Empty(t, (&Product{Stock: 0, Price: decimal.Zero}).ValidateInvariants())

	errs := (&Product{Stock: -1, Price: decimal.NewFromInt(-1), IsCurrentTopMarket: true}).ValidateInvariants()
	require.Len(t, errs, 3)
	require.ErrorIs(t, errs[0], ErrInsufficientStock)
	require.ErrorIs(t, errs[1], ErrPriceInvalid)
	require.ErrorIs(t, errs[2], ErrProductUnavailable)
}

func TestGroupByCategory(t *testing.T) {
	listing := GroupByCategory([]Product{
		{ID: 1, Category: " Fruits "},
		{ID: 2, Category: "vegetables"},
		{ID: 3, Category: "herbs"},
		{ID: 4, Category: "fruits", IsTopMarket: true},
	})
	require.Len(t, listing.Fruits, 1)
	require.Equal(t, int64(1), listing.Fruits[0].ID)
	require.Len(t, listing.Vegetables, 1)
	require.Len(t, listing.Other, 1)

	empty := GroupByCategory(nil)
	raw, err := json.Marshal(empty)
	require.NoError(t, err)
	require.JSONEq(t, `{"fruits":[],"vegetables":[],"other":[]}`, string(raw))
}

func TestStoryFeed(t *testing.T) {
	feed := Story{ID: 3, Title: "Harvest", VideoURL: "v.mp4"}.Feed(true)
	raw, err := json.Marshal(feed)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":3,"title":"Harvest","description":"","videoURL":"v.mp4","imageURL":"","viewedByTheCurrentUser":true}`, string(raw))
}
