package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	xerrors "TravelAgent-Chain/internal/errors"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echo " + name,
		Params:      []Param{{Name: "location", Type: TypeString, Required: true}},
		Invoke: func(_ context.Context, args Args) (string, error) {
			return args.String("location"), nil
		},
	}
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("get_weather"), echoTool("search_flights"), echoTool("get_airport_info"))

	entries := r.List()
	if len(entries) != 3 {
		t.Fatalf("unexpected entries %v", entries)
	}
	want := []string{"get_weather", "search_flights", "get_airport_info"}
	for i, e := range entries {
		if e.Name != want[i] || e.Description != "echo "+want[i] {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}
	if _, ok := r.Lookup("get_weather"); !ok {
		t.Fatalf("lookup failed")
	}
	if _, ok := r.Lookup("book_spaceship"); ok {
		t.Fatalf("unexpected tool")
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("get_weather")); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(echoTool("get_weather"))
	var dup *DuplicateToolError
	if !errors.As(err, &dup) || dup.Name != "get_weather" {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if !errors.Is(err, xerrors.New(xerrors.CodeDuplicateTool, "")) {
		t.Fatalf("duplicate error should match DUPLICATE_TOOL code")
	}
	if r.Len() != 1 {
		t.Fatalf("registry should be unchanged")
	}
}

func TestFrozenRegistryRejectsRegistration(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	if err := r.Register(echoTool("get_weather")); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected frozen error, got %v", err)
	}
}

func TestRegisterRejectsInvalidTools(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Tool{Name: " ", Invoke: echoTool("x").Invoke}); err == nil {
		t.Fatalf("empty name should fail")
	}
	if err := r.Register(Tool{Name: "noop"}); err == nil {
		t.Fatalf("missing invoke should fail")
	}
	bad := echoTool("dup_params")
	bad.Params = append(bad.Params, Param{Name: "location", Type: TypeString})
	if err := r.Register(bad); err == nil {
		t.Fatalf("duplicate parameter should fail")
	}
}

func TestSchemaListsRequiredParameters(t *testing.T) {
	tl := Tool{Name: "search_flights", Params: []Param{
		{Name: "origin", Type: TypeString, Required: true},
		{Name: "adults", Type: TypeInteger},
	}}
	schema := tl.Schema()
	req, _ := schema["required"].([]string)
	if len(req) != 1 || req[0] != "origin" {
		t.Fatalf("unexpected required %v", schema["required"])
	}
	props := schema["properties"].(map[string]any)
	if props["adults"].(map[string]any)["type"] != "integer" {
		t.Fatalf("unexpected properties %v", props)
	}
	if schema["additionalProperties"] != false {
		t.Fatalf("schema should forbid additional properties")
	}
}

func TestCallValidatesBeforeInvoke(t *testing.T) {
	called := false
	tl := echoTool("get_weather")
	inner := tl.Invoke
	tl.Invoke = func(ctx context.Context, args Args) (string, error) {
		called = true
		return inner(ctx, args)
	}

	if _, err := tl.Call(context.Background(), Args{"city": "Paris"}); err == nil || !strings.Contains(err.Error(), "unknown parameter") {
		t.Fatalf("expected unknown parameter error, got %v", err)
	}
	if called {
		t.Fatalf("tool must not run with invalid arguments")
	}
	out, err := tl.Call(context.Background(), Args{"location": "Paris"})
	if err != nil || out != "Paris" {
		t.Fatalf("unexpected result %q %v", out, err)
	}
}

func TestSpecsFollowRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("get_weather"), echoTool("get_airport_info"))
	specs := r.Specs()
	if len(specs) != 2 || specs[0].Name != "get_weather" || specs[1].Name != "get_airport_info" {
		t.Fatalf("unexpected specs %+v", specs)
	}
	if specs[0].Parameters["additionalProperties"] != false {
		t.Fatalf("schema should forbid extra properties: %v", specs[0].Parameters)
	}
}

func TestModesDefaultToLive(t *testing.T) {
	r := NewRegistry()
	demo := echoTool("get_weather")
	demo.Mode = "demo"
	r.MustRegister(demo, echoTool("get_todo_list"))
	modes := r.Modes()
	if modes["get_weather"] != "demo" || modes["get_todo_list"] != "live" {
		t.Fatalf("unexpected modes %v", modes)
	}
}
