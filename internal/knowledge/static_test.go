package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinKnowledgeLoads(t *testing.T) {
	p, err := Load("", 2)
	if err != nil {
		t.Fatalf("load builtin: %v", err)
	}
	if p.Len() == 0 {
		t.Fatalf("builtin knowledge base is empty")
	}
	got := p.Query("How does the referral split work when I pay?")
	if len(got) == 0 || got[0].Title != "Referral payments" {
		t.Fatalf("unexpected ranking %+v", got)
	}
	if len(got) > 2 {
		t.Fatalf("max results not honoured: %d", len(got))
	}
}

func TestQueryRanksByKeywordHits(t *testing.T) {
	p := NewStaticProvider([]Snippet{
		{Title: "one", Keywords: []string{"flight"}},
		{Title: "two", Keywords: []string{"flight", "date"}},
		{Title: "none", Keywords: []string{"weather"}},
	}, 5)
	got := p.Query("what date is my flight")
	if len(got) != 2 || got[0].Title != "two" || got[1].Title != "one" {
		t.Fatalf("unexpected results %+v", got)
	}
	if p.Query("   ") != nil {
		t.Fatalf("blank query should return nothing")
	}
	if text := Format(got); !strings.HasPrefix(text, "two: ") {
		t.Fatalf("unexpected format %q", text)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	if err := os.WriteFile(path, []byte(`[{"title":"Visa","content":"Check visa rules.","keywords":["visa"]}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Load(path, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := p.Query("do I need a visa"); len(got) != 1 {
		t.Fatalf("unexpected results %+v", got)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json"), 1); err == nil {
		t.Fatalf("missing file should fail")
	}
}
