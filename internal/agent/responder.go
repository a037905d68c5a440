// Package agent renders dealer-agent text through an LLM provider.
// Callers own the fallback: every method can fail and the negotiation
// service substitutes deterministic text when it does.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carverlabs/dealpilot/internal/ai"
)

// Vars carries the negotiation facts a prompt can reference.
type Vars struct {
	VehicleMake    string
	VehicleModel   string
	VehicleYear    int
	Mileage        int
	AskingPrice    float64
	SuggestedPrice float64
	TargetPrice    float64
	CounterOffer   float64
	Round          int
	MaxRounds      int
	DealerInfoType string
	DealerInfoText string
	PriceMentioned float64
	History        []ai.Message
}

// Responder is the LLM-backed dealer agent. Every call is bounded by the
// configured timeout; a timeout surfaces as an error like any provider failure.
type Responder struct {
	provider ai.Provider
	timeout  time.Duration
}

func NewResponder(provider ai.Provider, timeout time.Duration) *Responder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Responder{provider: provider, timeout: timeout}
}

const systemPrompt = "You are a car-buying negotiation assistant. You negotiate on behalf " +
	"of the buyer against a dealership. Be concrete, cite the numbers you are given, " +
	"and keep replies under 120 words."

func (r *Responder) chat(ctx context.Context, userPrompt string, history []ai.Message) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msgs := make([]ai.Message, 0, len(history)+2)
	msgs = append(msgs, ai.Message{Role: "system", Content: systemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, ai.Message{Role: "user", Content: userPrompt})

	reply, err := r.provider.Chat(cctx, msgs)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("agent: empty reply")
	}
	return reply, nil
}

func (r *Responder) vehicleLine(v Vars) string {
	return fmt.Sprintf("%d %s %s with %d miles", v.VehicleYear, v.VehicleMake, v.VehicleModel, v.Mileage)
}

// GenerateInitial renders the opening offer message for a new session.
func (r *Responder) GenerateInitial(ctx context.Context, v Vars) (string, error) {
	prompt := fmt.Sprintf(
		"Open a negotiation for a %s. Asking price is $%.2f, the buyer's target is $%.2f "+
			"and our opening offer is $%.2f. Explain the opening offer and invite a response.",
		r.vehicleLine(v), v.AskingPrice, v.TargetPrice, v.SuggestedPrice)
	return r.chat(ctx, prompt, nil)
}

// GenerateCounter renders the response to a buyer counter-offer.
func (r *Responder) GenerateCounter(ctx context.Context, v Vars) (string, error) {
	prompt := fmt.Sprintf(
		"Round %d of %d negotiating a %s listed at $%.2f. The buyer countered at $%.2f "+
			"and our new position is $%.2f. Justify the move against the buyer's target of $%.2f.",
		v.Round, v.MaxRounds, r.vehicleLine(v), v.AskingPrice, v.CounterOffer, v.SuggestedPrice, v.TargetPrice)
	return r.chat(ctx, prompt, v.History)
}

// GenerateChat answers a free-form question in the context of the negotiation.
func (r *Responder) GenerateChat(ctx context.Context, question string, v Vars) (string, error) {
	prompt := fmt.Sprintf(
		"The current negotiated price for the %s is $%.2f (asking $%.2f). "+
			"Answer the buyer's question: %s",
		r.vehicleLine(v), v.SuggestedPrice, v.AskingPrice, question)
	return r.chat(ctx, prompt, v.History)
}

// GenerateDealerAnalysis evaluates information the buyer relayed from the dealership.
func (r *Responder) GenerateDealerAnalysis(ctx context.Context, v Vars) (string, error) {
	priceNote := "No specific price was mentioned."
	if v.PriceMentioned > 0 {
		priceNote = fmt.Sprintf("The dealer mentioned $%.2f.", v.PriceMentioned)
	}
	prompt := fmt.Sprintf(
		"The buyer relayed dealer information (%s): %q. %s Our current position is $%.2f "+
			"and the buyer's target is $%.2f. Analyze what this means and how to respond.",
		v.DealerInfoType, v.DealerInfoText, priceNote, v.SuggestedPrice, v.TargetPrice)
	return r.chat(ctx, prompt, v.History)
}
