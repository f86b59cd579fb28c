package reporting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
	"github.com/bbopar/discord-token-tracker/internal/storage/memory"
	"github.com/bbopar/discord-token-tracker/internal/storage/storetest"
)

func setupTestData(t *testing.T) *memory.TokenStore {
	t.Helper()
	ctx := context.Background()

	clock := storetest.NewClock(storetest.BaseTime)
	store := memory.NewTokenStore(storage.WithClock(clock.Now))

	if _, err := store.Save(ctx, []*domain.MentionEvent{
		storetest.Event("AAA", domain.UpdateKindNewListing, "100K", "20"),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	clock.Advance(time.Hour)
	if _, err := store.Save(ctx, []*domain.MentionEvent{
		storetest.Event("AAA", domain.UpdateKindUpdate, "2M", "150"),
		storetest.Event("BBB", domain.UpdateKindUpdate, "50K", "5"),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.UpdatePerformance(ctx, "AAA", &domain.PerformanceSnapshot{
		TokenAddress:   "AAA",
		PriceChange24h: 12.5,
		RugPull:        true,
	}); err != nil {
		t.Fatalf("UpdatePerformance failed: %v", err)
	}
	if err := store.MarkSent(ctx, "AAA"); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}

	return store
}

func TestGenerate_Rows(t *testing.T) {
	ctx := context.Background()
	store := setupTestData(t)

	report, err := NewGenerator(store).Generate(ctx, storage.TokenFilter{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(report.Tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(report.Tokens))
	}

	// Newest first
	if report.Tokens[0].TokenAddress != "BBB" || report.Tokens[1].TokenAddress != "AAA" {
		t.Errorf("unexpected order: %s, %s", report.Tokens[0].TokenAddress, report.Tokens[1].TokenAddress)
	}

	a := report.Tokens[1]
	if !a.FirstMarketCap.Equal(decimal.NewFromInt(100_000)) {
		t.Errorf("FirstMarketCap = %s, want 100000", a.FirstMarketCap)
	}
	if !a.LatestMarketCap.Equal(decimal.NewFromInt(2_000_000)) {
		t.Errorf("LatestMarketCap = %s, want 2000000", a.LatestMarketCap)
	}
	if !a.Growth.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Growth = %s, want 20", a.Growth)
	}
	if a.Updates != 2 {
		t.Errorf("Updates = %d, want 2", a.Updates)
	}
	if a.FirstMention != "poster" {
		t.Errorf("FirstMention = %q, want poster", a.FirstMention)
	}
	if !a.Sent || !a.HasPerformance || !a.RugPull {
		t.Errorf("expected sent, performance and rug pull flags on AAA: %+v", a)
	}

	b := report.Tokens[0]
	if b.FirstMention != "" || b.Sent || b.HasPerformance {
		t.Errorf("unexpected state for BBB: %+v", b)
	}
	if !b.Growth.Equal(decimal.NewFromInt(1)) {
		t.Errorf("single update growth = %s, want 1", b.Growth)
	}
}

func TestGenerate_Summary(t *testing.T) {
	store := setupTestData(t)

	report, err := NewGenerator(store).Generate(context.Background(), storage.TokenFilter{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	s := report.Summary
	if s.TotalTokens != 2 || s.NewListings != 1 || s.WithFirstMention != 1 ||
		s.WithPerformance != 1 || s.Sent != 1 || s.Flagged != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if !s.FirstSeenStart.Equal(storetest.BaseTime) {
		t.Errorf("FirstSeenStart = %v, want %v", s.FirstSeenStart, storetest.BaseTime)
	}
	if !s.FirstSeenEnd.Equal(storetest.BaseTime.Add(time.Hour)) {
		t.Errorf("FirstSeenEnd = %v", s.FirstSeenEnd)
	}

	if len(report.Posters) != 1 {
		t.Fatalf("expected 1 poster, got %d", len(report.Posters))
	}
	if p := report.Posters[0]; p.DiscordID != "42" || p.Tokens != 1 || p.Sent != 1 {
		t.Errorf("unexpected poster row: %+v", p)
	}
}

func TestGenerate_WithClock(t *testing.T) {
	store := setupTestData(t)

	fixedTime := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	report, err := NewGenerator(store).WithClock(func() time.Time { return fixedTime }).
		Generate(context.Background(), storage.TokenFilter{Ticker: "TAAA"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !report.GeneratedAt.Equal(fixedTime) {
		t.Errorf("Expected GeneratedAt %v, got %v", fixedTime, report.GeneratedAt)
	}
	if len(report.Tokens) != 1 {
		t.Errorf("ticker filter: expected 1 token, got %d", len(report.Tokens))
	}
	if report.Filter != "ticker=TAAA sort=firstSeenAt" {
		t.Errorf("Filter = %q", report.Filter)
	}
}

func TestRenderMarkdown_ContainsSections(t *testing.T) {
	store := setupTestData(t)

	report, err := NewGenerator(store).Generate(context.Background(), storage.TokenFilter{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	md := RenderMarkdown(report)
	for _, want := range []string{
		"# Token Report",
		"## Summary",
		"## Tokens",
		"## First Mentions by User",
		"| TAAA | Token AAA | `AAA` |",
		"20.00x",
		"rug",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestGenerate_SolanaAddress(t *testing.T) {
	ctx := context.Background()
	store := setupTestData(t)

	const mint = "So11111111111111111111111111111111111111112"
	if _, err := store.Save(ctx, []*domain.MentionEvent{
		storetest.Event(mint, domain.UpdateKindNewListing, "1M", "10"),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	report, err := NewGenerator(store).Generate(ctx, storage.TokenFilter{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var solRow, aaaRow TokenRow
	for _, row := range report.Tokens {
		switch row.TokenAddress {
		case mint:
			solRow = row
		case "AAA":
			aaaRow = row
		}
	}
	if !solRow.SolanaAddress {
		t.Errorf("expected %s to be a Solana address", mint)
	}
	if aaaRow.SolanaAddress {
		t.Error("expected AAA not to be a Solana address")
	}
	if got := flags(solRow); got != "-" {
		t.Errorf("flags(%s) = %q, want -", mint, got)
	}
	if got := flags(aaaRow); got != "rug, non-base58" {
		t.Errorf("flags(AAA) = %q, want \"rug, non-base58\"", got)
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	md := RenderMarkdown(&Report{GeneratedAt: storetest.BaseTime})
	if !strings.Contains(md, "No tokens match the filter.") {
		t.Error("expected empty token section")
	}
	if !strings.Contains(md, "No resolved first mentions.") {
		t.Error("expected empty poster section")
	}
}

func TestRenderCSV(t *testing.T) {
	rows := []TokenRow{{
		TokenAddress:    "AAA",
		Name:            "Cats, Dogs",
		Ticker:          "CD",
		Chain:           "SOL",
		FirstSeenAt:     storetest.BaseTime,
		Updates:         2,
		FirstMarketCap:  decimal.NewFromInt(100_000),
		LatestMarketCap: decimal.NewFromInt(250_000),
		Growth:          decimal.NewFromFloat(2.5),
		Sent:            true,
	}}

	out, err := RenderCSV(rows)
	if err != nil {
		t.Fatalf("RenderCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "token_address,name,ticker") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	want := `AAA,"Cats, Dogs",CD,SOL,2025-01-27T10:00:00Z,2,100000,250000,2.50,,true,false,0.00,false,false,false,false`
	if lines[1] != want {
		t.Errorf("row = %s\nwant  %s", lines[1], want)
	}
}
