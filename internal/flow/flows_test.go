package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/executor"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
	"github.com/sifxtreme/jarvis-sub000/internal/store"
)

func testConv() ConversationContext {
	return ConversationContext{
		UserID: "u1", ThreadID: "t1",
		Now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC), Location: time.UTC,
	}
}

func TestTransactionFlow_MissingFields(t *testing.T) {
	f := NewTransactionFlow(&scriptedExtractor{}, nil, nil)

	missing := f.MissingFields(models.TransactionPayload{
		Amount: "12.00", Date: "2024-01-01", Source: "amex",
	})
	if len(missing) != 1 || missing[0] != "merchant" {
		t.Errorf("missing = %v, want [merchant]", missing)
	}

	missing = f.MissingFields(models.TransactionPayload{
		Merchant: "Blue Bottle", Amount: "6.50", Date: "2026-08-30", Source: "monopoly money",
	})
	if len(missing) != 1 || missing[0] != "source" {
		t.Errorf("unknown source must count as missing; got %v", missing)
	}

	missing = f.MissingFields(models.TransactionPayload{
		Merchant: "Blue Bottle", Amount: "6.50", Date: "2026-08-30", Source: "amex",
	})
	if len(missing) != 0 {
		t.Errorf("complete payload reported missing fields: %v", missing)
	}
}

func TestTransactionFlow_SourceGuidanceInPrompt(t *testing.T) {
	f := NewTransactionFlow(&scriptedExtractor{}, nil, []string{"amex", "cash"})

	extra := f.ExtraPrompt([]string{"source"})
	if !strings.Contains(extra, "amex, cash") {
		t.Errorf("source guidance must list the configured accounts, got %q", extra)
	}
	if f.ExtraPrompt([]string{"merchant"}) != "" {
		t.Error("no guidance expected when source is not missing")
	}
}

func TestTransactionFlow_NormalizeCleansAmountAndSource(t *testing.T) {
	f := NewTransactionFlow(&scriptedExtractor{}, nil, nil)

	p := f.Normalize(testConv(), models.TransactionPayload{
		Merchant: " Blue Bottle ", Amount: " $6.50 ", Source: " AMEX ",
	})
	txn := p.(models.TransactionPayload)
	if txn.Amount != "6.50" || txn.Source != "amex" || txn.Merchant != "Blue Bottle" {
		t.Errorf("normalize result: %+v", txn)
	}
}

func TestEventFlow_NormalizeResolvesNaturalDate(t *testing.T) {
	f := NewEventFlow(&scriptedExtractor{}, nil)
	conv := testConv() // a Tuesday

	p := f.Normalize(conv, models.EventPayload{Title: " Lunch ", Date: "friday", Recurrence: "None"})
	event := p.(models.EventPayload)
	if event.Date != "2026-09-04" {
		t.Errorf("date = %q, want 2026-09-04", event.Date)
	}
	if event.Recurrence != "" {
		t.Errorf("recurrence 'None' must normalize away, got %q", event.Recurrence)
	}
	if event.Title != "Lunch" {
		t.Errorf("title = %q", event.Title)
	}

	p = f.Normalize(conv, models.EventPayload{Title: "Lunch", Date: "2026-09-04"})
	if p.(models.EventPayload).Date != "2026-09-04" {
		t.Error("ISO dates must pass through unchanged")
	}
}

func TestMemoryFlow_PreflightAutoSavesBareImage(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := executor.NewStoreExecutor(st, time.UTC)
	f := NewMemoryFlow(&scriptedExtractor{}, exec)

	conv := testConv()
	conv.ImageRef = "img-abc"
	pre := f.Preflight(context.Background(), conv)
	if pre == nil || !pre.Execute {
		t.Fatal("a text-less image must be auto-saved without extraction")
	}
	mem := pre.Payload.(models.MemoryPayload)
	if mem.ImageRef != "img-abc" || mem.Content != "Saved image" {
		t.Errorf("unexpected preflight payload: %+v", mem)
	}

	conv.Text = "remember this menu"
	if f.Preflight(context.Background(), conv) != nil {
		t.Error("an image with text must go through extraction")
	}
}

func TestMemoryFlow_NormalizeExtractsURL(t *testing.T) {
	f := NewMemoryFlow(&scriptedExtractor{}, nil)

	p := f.Normalize(testConv(), models.MemoryPayload{
		Content: "save this https://example.com/recipe for later",
	})
	mem := p.(models.MemoryPayload)
	if mem.URL != "https://example.com/recipe" {
		t.Errorf("url = %q", mem.URL)
	}
	if mem.Content != "save this for later" {
		t.Errorf("content = %q", mem.Content)
	}

	p = f.Normalize(testConv(), models.MemoryPayload{Content: "https://example.com"})
	mem = p.(models.MemoryPayload)
	if mem.URL != "https://example.com" || mem.Content != "https://example.com" {
		t.Errorf("bare URL handling: %+v", mem)
	}
}

func TestResolveNaturalDate(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) // Tuesday

	if got := resolveNaturalDate("2026-12-25", now, time.UTC); got != "2026-12-25" {
		t.Errorf("ISO passthrough = %q", got)
	}
	if got := resolveNaturalDate("tomorrow", now, time.UTC); got != "2026-09-02" {
		t.Errorf("tomorrow = %q, want 2026-09-02", got)
	}
	if got := resolveNaturalDate("gibberish zzz", now, time.UTC); got != "" {
		t.Errorf("unresolvable input must yield empty, got %q", got)
	}
	if got := resolveNaturalDate("", now, time.UTC); got != "" {
		t.Errorf("empty input must stay empty, got %q", got)
	}
}

func TestExtractURL(t *testing.T) {
	url, rest := extractURL("https://example.com/x. check it later")
	if url != "https://example.com/x" {
		t.Errorf("url = %q", url)
	}
	if rest != "check it later" {
		t.Errorf("remainder = %q", rest)
	}
	url, rest = extractURL("no links here")
	if url != "" || rest != "no links here" {
		t.Errorf("got (%q, %q)", url, rest)
	}
}

func TestConfirmUpdatePrompt_StableFieldOrder(t *testing.T) {
	event := models.CalendarEvent{Title: "Standup"}
	changes := map[string]string{
		"start_time": "09:30",
		"date":       "2026-09-03",
		"title":      "Daily standup",
	}
	want := `Change "Standup": date to 2026-09-03, start time to 09:30, title to Daily standup? (yes/no)`
	for i := 0; i < 20; i++ {
		if got := confirmUpdatePrompt(event, changes); got != want {
			t.Fatalf("prompt = %q, want %q", got, want)
		}
	}
}

func TestParseScopeReply(t *testing.T) {
	cases := map[string]struct {
		scope models.RecurringScope
		ok    bool
	}{
		"just this one":    {models.ScopeInstance, true},
		"this occurrence":  {models.ScopeInstance, true},
		"the whole series": {models.ScopeSeries, true},
		"all":              {models.ScopeSeries, true},
		"every one":        {models.ScopeSeries, true},
		"hmm":              {"", false},
	}
	for in, want := range cases {
		scope, ok := parseScopeReply(in)
		if scope != want.scope || ok != want.ok {
			t.Errorf("parseScopeReply(%q) = (%q, %v), want (%q, %v)", in, scope, ok, want.scope, want.ok)
		}
	}
}
