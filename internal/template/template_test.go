package template

import (
	"errors"
	"testing"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"company-profile", "market-overview", "topic-brief"} {
		tpl, err := r.Get(id)
		if err != nil {
			t.Fatalf("Get(%q): %v", id, err)
		}
		if len(tpl.Sections) == 0 {
			t.Errorf("template %q has no sections", id)
		}
		if len(tpl.SearchQueries) == 0 {
			t.Errorf("template %q has no search queries", id)
		}
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	_, err := NewRegistry().Get("no-such-template")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	custom := &Template{ID: "custom", Name: "Custom", Sections: []string{"Body"}}
	if err := r.Register(custom); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := r.Get("custom")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Custom" {
		t.Errorf("name = %q", got.Name)
	}

	if err := r.Register(&Template{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestRegistryList(t *testing.T) {
	list := NewRegistry().List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Errorf("list not sorted: %s before %s", list[i-1].ID, list[i].ID)
		}
	}
}

func TestExpandQueries(t *testing.T) {
	tpl := &Template{SearchQueries: []string{"{query}", "{query} market size", "industry glossary"}}
	got := tpl.ExpandQueries("ev batteries")

	want := []string{"ev batteries", "ev batteries market size", "industry glossary"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExpandQueriesEmptyTemplate(t *testing.T) {
	tpl := &Template{}
	got := tpl.ExpandQueries("plain query")
	if len(got) != 1 || got[0] != "plain query" {
		t.Errorf("got %v", got)
	}
}
