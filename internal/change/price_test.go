package change

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competitor-watch/internal/storage/memory"
	"github.com/JakeFAU/competitor-watch/internal/store"
)

type stubPriceExtractor struct {
	quotes []PriceQuote
}

func (s *stubPriceExtractor) ExtractPrices(string, string) ([]PriceQuote, error) {
	return s.quotes, nil
}

func TestPriceCoordinatorDetectsMoves(t *testing.T) {
	t.Parallel()

	repo := memory.NewStore()
	extractor := &stubPriceExtractor{}
	c := NewPriceCoordinator(PriceConfig{}, extractor, repo, &seqIDs{}, newStepClock(), nil)
	ctx := context.Background()
	obs := Observation{CompetitorID: "c1", ScanID: "s1", URL: "https://acme.test/pricing"}

	extractor.quotes = []PriceQuote{{ProductName: "Pro", Price: 19.99, Currency: "USD"}, {ProductName: "Basic", Price: 19.99, Currency: "USD"}}
	events, err := c.Process(ctx, obs)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, KindNew, events[0].Kind)
	require.Nil(t, events[0].Alert)
	require.Equal(t, "19.99", events[0].NewValue)

	extractor.quotes = []PriceQuote{{ProductName: "Pro", Price: 24.99, Currency: "USD"}, {ProductName: "Basic", Price: 20.00, Currency: "USD"}}
	events, err = c.Process(ctx, obs)
	require.NoError(t, err)
	require.Len(t, events, 2)

	pro := events[0]
	require.Equal(t, KindChanged, pro.Kind)
	require.Equal(t, string(store.PriceIncrease), pro.ChangeType)
	require.InDelta(t, 25.0, pro.ChangePercent, 0.05)
	require.Equal(t, store.SeverityHigh, pro.Severity)
	require.NotNil(t, pro.Alert)
	require.Equal(t, store.AlertPriceChange, pro.Alert.Type)
	require.Equal(t, "Price Increased: Pro", pro.Alert.Title)
	require.Equal(t, "Price changed from $19.99 to $24.99 (+25.0%)", pro.Alert.Message)

	basic := events[1]
	require.Equal(t, KindUnchanged, basic.Kind)
	require.Nil(t, basic.Alert)

	changes := repo.PriceChanges()
	require.Len(t, changes, 1)
	require.Equal(t, "Pro", changes[0].ProductName)
	require.Equal(t, 19.99, changes[0].OldPrice)
	require.Equal(t, 24.99, changes[0].NewPrice)

	require.Len(t, repo.PriceHistory("c1", "Basic"), 2)
	require.Len(t, repo.PriceHistory("c1", "Pro"), 2)

	extractor.quotes = []PriceQuote{{ProductName: "Pro", Price: 23.99, Currency: "USD"}}
	events, err = c.Process(ctx, obs)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, string(store.PriceDecrease), events[0].ChangeType)
	require.Equal(t, store.SeverityMedium, events[0].Severity)
	require.Equal(t, "Price Decreased: Pro", events[0].Alert.Title)
	require.InDelta(t, -4.0, events[0].ChangePercent, 0.01)
}

func TestPriceDelta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		old, new float64
		pct      float64
		alert    bool
	}{
		{"increase", 19.99, 24.99, 25.01, true},
		{"below threshold", 19.99, 20.00, 0.05, false},
		{"equal", 10, 10, 0, false},
		{"zero baseline", 0, 10, 0, false},
		{"decrease", 100, 89, -11, true},
		{"exactly threshold", 100, 101, 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pct, alert := PriceDelta(tc.old, tc.new, 0.01)
			require.InDelta(t, tc.pct, pct, 0.001)
			require.Equal(t, tc.alert, alert)
		})
	}
}

func TestNormalizePrice(t *testing.T) {
	t.Parallel()

	cases := map[string]float64{
		"1,234.56": 1234.56,
		"1.234,56": 1234.56,
		"19,99":    19.99,
		"1,234":    1234,
		"$ 49":     49,
		"€12.50":   12.5,
		"abc":      0,
		"":         0,
	}
	for in, want := range cases {
		require.InDelta(t, want, NormalizePrice(in), 0.0001, in)
	}
}

func TestDetectCurrency(t *testing.T) {
	t.Parallel()

	require.Equal(t, "USD", DetectCurrency("$10"))
	require.Equal(t, "EUR", DetectCurrency("10 €"))
	require.Equal(t, "GBP", DetectCurrency("£5"))
	require.Equal(t, "INR", DetectCurrency("₹500"))
	require.Equal(t, "EUR", DetectCurrency("10 EUR"))
	require.Equal(t, "USD", DetectCurrency("10"))
}

const pricingPage = `<html><body>
<h1>Pricing</h1>
<div class="grid">
  <div class="card"><h3>Starter</h3><span class="price">$9.99</span></div>
  <div class="card"><h3>Pro</h3><span class="price">$19.99</span> <s>$29.99</s></div>
  <div class="card"><h3>Team</h3><span class="price">€1.234,50</span><span>Save 20%</span></div>
</div>
</body></html>`

func TestHeuristicPriceExtractor(t *testing.T) {
	t.Parallel()

	quotes, err := HeuristicPriceExtractor{}.ExtractPrices(pricingPage, "https://acme.test/pricing")
	require.NoError(t, err)
	require.Len(t, quotes, 3)

	require.Equal(t, "Starter", quotes[0].ProductName)
	require.Equal(t, 9.99, quotes[0].Price)
	require.Equal(t, "USD", quotes[0].Currency)
	require.False(t, quotes[0].OnSale)
	require.Nil(t, quotes[0].OriginalPrice)

	require.Equal(t, "Pro", quotes[1].ProductName)
	require.Equal(t, 19.99, quotes[1].Price)
	require.NotNil(t, quotes[1].OriginalPrice)
	require.Equal(t, 29.99, *quotes[1].OriginalPrice)
	require.True(t, quotes[1].OnSale)
	require.Equal(t, 33.0, *quotes[1].DiscountPercent)

	require.Equal(t, "Team", quotes[2].ProductName)
	require.InDelta(t, 1234.5, quotes[2].Price, 0.0001)
	require.Equal(t, "EUR", quotes[2].Currency)
	require.True(t, quotes[2].OnSale)
	require.Equal(t, 20.0, *quotes[2].DiscountPercent)
}

func TestHeuristicPriceExtractorFallsBackToPageName(t *testing.T) {
	t.Parallel()

	quotes, err := HeuristicPriceExtractor{}.ExtractPrices(`<p><span class="price">$5</span></p>`, "https://acme.test/x")
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	require.Equal(t, "Product on https://acme.test/x", quotes[0].ProductName)
	require.Equal(t, 5.0, quotes[0].Price)
}
