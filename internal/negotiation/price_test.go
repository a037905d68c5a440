package negotiation

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.001
}

func TestOpeningOffer_AnchorsOnTarget(t *testing.T) {
	// no fair value: 13% under the buyer's target
	got := OpeningOffer(25000, 22000, nil)
	if !almostEqual(got, 19140) {
		t.Fatalf("expected 19140, got %.2f", got)
	}
}

func TestOpeningOffer_FairValueAnchor(t *testing.T) {
	fv := 24000.0 // above 90% of asking: anchor on fair value
	got := OpeningOffer(25000, 22000, &fv)
	if !almostEqual(got, 24000*0.87) {
		t.Fatalf("expected %.2f, got %.2f", 24000*0.87, got)
	}
}

func TestOpeningOffer_OverpricedListing(t *testing.T) {
	fv := 21000.0 // below 90% of 25000: listing is overpriced
	got := OpeningOffer(25000, 22000, &fv)
	if !almostEqual(got, 21000*0.95) {
		t.Fatalf("expected %.2f, got %.2f", 21000*0.95, got)
	}
}

func TestCounterResponse_Ladder(t *testing.T) {
	asking := 25000.0
	cases := []struct {
		name    string
		counter float64
		want    float64
	}{
		{"excellent discount holds firm", 22000, 22000 * 1.01}, // 12% under asking
		{"good discount gets small raise", 23750, 23750 * 1.02}, // 5% under asking
		{"weak discount pressed down", 24500, 24500 * 0.98},     // 2% under asking
	}
	for _, tc := range cases {
		got := CounterResponse(asking, tc.counter)
		if !almostEqual(got, tc.want) {
			t.Fatalf("%s: expected %.2f, got %.2f", tc.name, tc.want, got)
		}
	}
}

func TestDiscountPercent(t *testing.T) {
	if got := DiscountPercent(25000, 22500); !almostEqual(got, 10) {
		t.Fatalf("expected 10, got %.2f", got)
	}
	if got := DiscountPercent(25000, 26000); !almostEqual(got, -4) {
		t.Fatalf("expected -4, got %.2f", got)
	}
	if got := DiscountPercent(0, 22500); got != 0 {
		t.Fatalf("expected 0 for zero asking, got %.2f", got)
	}
}

func TestLatestSuggestedPrice_ScansNewestFirst(t *testing.T) {
	msgs := []Message{
		{Metadata: Metadata{MetaAction: "chat_message"}},
		{Metadata: Metadata{MetaSuggestedPrice: 21500.0}},
		{Metadata: Metadata{MetaSuggestedPrice: 20000.0}}, // older, must not win
	}
	if got := LatestSuggestedPrice(msgs, 25000); !almostEqual(got, 21500) {
		t.Fatalf("expected 21500, got %.2f", got)
	}
}

func TestLatestSuggestedPrice_FallsBackToAsking(t *testing.T) {
	if got := LatestSuggestedPrice(nil, 25000); !almostEqual(got, 25000) {
		t.Fatalf("expected asking fallback, got %.2f", got)
	}
}

func TestLatestSuggestedPrice_BoundedLookback(t *testing.T) {
	// the price sits just past the look-back window, so it must be ignored
	msgs := make([]Message, priceLookback)
	for i := range msgs {
		msgs[i] = Message{Metadata: Metadata{MetaAction: "chat_message"}}
	}
	msgs = append(msgs, Message{Metadata: Metadata{MetaSuggestedPrice: 19000.0}})

	if got := LatestSuggestedPrice(msgs, 25000); !almostEqual(got, 25000) {
		t.Fatalf("expected asking fallback past lookback, got %.2f", got)
	}
}

func TestLatestTargetPrice_Default(t *testing.T) {
	if got := LatestTargetPrice(nil, 25000); !almostEqual(got, 22500) {
		t.Fatalf("expected 90%% of asking, got %.2f", got)
	}
}

func TestLatestTargetPrice_FromLedger(t *testing.T) {
	msgs := []Message{
		{Metadata: Metadata{MetaTargetPrice: 21000.0}},
	}
	if got := LatestTargetPrice(msgs, 25000); !almostEqual(got, 21000) {
		t.Fatalf("expected 21000, got %.2f", got)
	}
}
