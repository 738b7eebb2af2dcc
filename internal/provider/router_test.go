package provider

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	name   string
	models map[string]bool
	fail   error
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) SupportsModel(model string) bool {
	if p.models == nil {
		return true
	}
	return p.models[model]
}
func (p *fakeProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if p.fail != nil {
		return Response{}, p.fail
	}
	return Response{Content: "ok from " + p.name, Usage: Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
}
func (p *fakeProvider) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	ch := make(chan Chunk, 1)
	ch <- Chunk{ContentDelta: "ok", Done: true}
	close(ch)
	return ch, nil
}

func TestFallbackOrdering(t *testing.T) {
	pA := &fakeProvider{name: "pA", fail: errors.New("500")}
	pB := &fakeProvider{name: "pB"}
	pC := &fakeProvider{name: "pC"}

	r := New(StrategyPriority, 3)
	r.Register(pA)
	r.Register(pB)
	r.Register(pC)

	resp, err := r.Route(context.Background(), Request{Model: "any"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ProviderName != "pB" {
		t.Fatalf("expected pB to serve the request, got %s", resp.ProviderName)
	}

	attempts := r.LastAttempts()
	if len(attempts) != 2 || attempts[0].ProviderName != "pA" || attempts[1].ProviderName != "pB" {
		t.Fatalf("unexpected attempt order: %+v", attempts)
	}
}

func TestRouteAllFail(t *testing.T) {
	pA := &fakeProvider{name: "pA", fail: errors.New("boom")}
	r := New(StrategyPriority, 3)
	r.Register(pA)

	if _, err := r.Route(context.Background(), Request{Model: "any"}); err == nil {
		t.Fatal("expected error when all providers fail")
	}
}

func TestRouteNoCandidates(t *testing.T) {
	pA := &fakeProvider{name: "pA", models: map[string]bool{"gpt": true}}
	r := New(StrategyPriority, 3)
	r.Register(pA)

	if _, err := r.Route(context.Background(), Request{Model: "claude"}); err == nil {
		t.Fatal("expected error when no provider supports the model")
	}
}

func TestRouteStreamNoFailoverMidStream(t *testing.T) {
	pA := &fakeProvider{name: "pA"}
	r := New(StrategyPriority, 3)
	r.Register(pA)

	ch, err := r.RouteStream(context.Background(), Request{Model: "any"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []Chunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 1 || !got[0].Done {
		t.Fatalf("unexpected chunks: %+v", got)
	}
}
