package classify

import (
	"errors"
	"testing"

	"lockwarden/internal/graph"
)

func node(name string) graph.Node {
	return graph.Node{
		Identity: graph.Identity{Name: name, Version: "1.0.0", Source: graph.RegistrySource("https://example.com/index", "sum")},
		Kind:     graph.KindNormal,
	}
}

func TestClassify_ScenarioOverride(t *testing.T) {
	c, err := NewClassifier(Config{Overrides: map[string]string{"ring": "cryptography"}})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}

	ring := c.Classify(node("ring"))
	want := graph.TcsClassification(graph.Cryptography, graph.Signal{Kind: graph.SignalExplicitOverride, Value: "ring"})
	if !ring.Equal(want) {
		t.Fatalf("ring = %+v, want %+v", ring, want)
	}

	serde := c.Classify(node("serde"))
	if serde.Tcs || len(serde.Signals) != 0 {
		t.Fatalf("serde = %+v, want Mechanical with no signals", serde)
	}
}

func TestClassify_OverrideBeatsPattern(t *testing.T) {
	c, err := NewClassifier(Config{
		Overrides: map[string]string{"ring": "custom:vendored-crypto"},
		Patterns:  []PatternConfig{{Kind: MatchExact, Pattern: "ring", Category: "transport"}},
	})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	got := c.Classify(node("ring"))
	if got.Category != graph.Custom("vendored-crypto") || got.Signals[0].Kind != graph.SignalExplicitOverride {
		t.Fatalf("override did not win: %+v", got)
	}
}

func TestClassify_BuildRoles(t *testing.T) {
	c, err := NewClassifier(Config{Patterns: []PatternConfig{{Kind: MatchGlob, Pattern: "*", Category: "random"}}})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}

	pm := node("my-derive")
	pm.Annotations = graph.Annotations{"cargo.proc_macro": "true"}
	bs := node("openssl-sys")
	bs.Annotations = graph.Annotations{"cargo.build_script": "true"}
	bd := node("cc")
	bd.Kind = graph.KindBuild
	ann := node("pkg-config")
	ann.Annotations = graph.Annotations{"cargo.dependency_kind": "build"}

	cases := []struct {
		n    graph.Node
		role string
	}{
		{pm, RoleProcMacro},
		{bs, RoleBuildScript},
		{bd, RoleBuildDependency},
		{ann, RoleBuildDependency},
	}
	for _, tc := range cases {
		got := c.Classify(tc.n)
		if !got.Tcs || got.Category != graph.BuildTimeExecution {
			t.Fatalf("%s: got %+v, want BuildTimeExecution", tc.n.Name, got)
		}
		if len(got.Signals) != 1 || got.Signals[0] != (graph.Signal{Kind: graph.SignalBuildRoleUsage, Value: tc.role}) {
			t.Fatalf("%s: signals = %v", tc.n.Name, got.Signals)
		}
	}
}

func TestClassify_PatternsInConfiguredOrder(t *testing.T) {
	patterns := []PatternConfig{
		{Kind: MatchPrefix, Pattern: "tokio", Category: "transport"},
		{Kind: MatchSuffix, Pattern: "-rustls", Category: "cryptography"},
	}
	c, err := NewClassifier(Config{Patterns: patterns})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	got := c.Classify(node("tokio-rustls"))
	if got.Category != graph.Transport || got.Signals[0] != (graph.Signal{Kind: graph.SignalNamePattern, Value: "tokio"}) {
		t.Fatalf("first pattern should win: %+v", got)
	}

	reversed, err := NewClassifier(Config{Patterns: []PatternConfig{patterns[1], patterns[0]}})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	if got := reversed.Classify(node("tokio-rustls")); got.Category != graph.Cryptography {
		t.Fatalf("reordering patterns should change the winner: %+v", got)
	}
}

func TestClassify_KeywordMatcherReportsMetadataTag(t *testing.T) {
	c, err := NewClassifier(Config{Patterns: []PatternConfig{
		{ID: "crypto-keyword", Kind: MatchKeyword, Pattern: "Cryptography", Category: "cryptography"},
	}})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	n := node("blake3")
	n.Annotations = graph.Annotations{"cargo.categories": "algorithms,cryptography"}
	got := c.Classify(n)
	want := graph.TcsClassification(graph.Cryptography,
		graph.Signal{Kind: graph.SignalNamePattern, Value: "crypto-keyword"},
		graph.Signal{Kind: graph.SignalMetadataTag, Value: "cargo.categories"},
	)
	if !got.Equal(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestClassify_IsRepeatable(t *testing.T) {
	c, err := NewClassifier(Config{UseDefaultPatterns: true})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	n := node("serde_json")
	n.Annotations = graph.Annotations{"cargo.keywords": "json", "cargo.categories": "encoding"}
	first := c.Classify(n)
	for i := 0; i < 50; i++ {
		if got := c.Classify(n); !got.Equal(first) {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
	if !first.Tcs || first.Category != graph.Serialization {
		t.Fatalf("serde_json = %+v", first)
	}
}

func TestDefaultPatterns(t *testing.T) {
	c, err := NewClassifier(Config{UseDefaultPatterns: true})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	cases := map[string]graph.Category{
		"sha2":         graph.Cryptography,
		"aes-gcm":      graph.Cryptography,
		"ring":         graph.Cryptography,
		"jsonwebtoken": "",
		"oauth2":       graph.Authentication,
		"toml_edit":    graph.Serialization,
		"hyper-util":   graph.Transport,
		"sqlx-core":    graph.Custom("database"),
		"rand_core":    graph.Random,
		"string":       "",
		"randomize":    "",
	}
	for name, want := range cases {
		got := c.Classify(node(name))
		if want == "" {
			if got.Tcs {
				t.Errorf("%s: expected Mechanical, got %+v", name, got)
			}
			continue
		}
		if !got.Tcs || got.Category != want {
			t.Errorf("%s: got %+v, want %s", name, got, want)
		}
	}
}

func TestNewClassifier_InvalidConfigFailsEagerly(t *testing.T) {
	cases := map[string]Config{
		"unknown override category": {Overrides: map[string]string{"ring": "crypto"}},
		"empty override name":       {Overrides: map[string]string{"": "cryptography"}},
		"bad regex":                 {Patterns: []PatternConfig{{Kind: MatchRegex, Pattern: "(", Category: "random"}}},
		"bad glob":                  {Patterns: []PatternConfig{{Kind: MatchGlob, Pattern: "[", Category: "random"}}},
		"unknown kind":              {Patterns: []PatternConfig{{Kind: "fuzzy", Pattern: "x", Category: "random"}}},
		"empty pattern":             {Patterns: []PatternConfig{{Kind: MatchExact, Category: "random"}}},
		"unknown pattern category":  {Patterns: []PatternConfig{{Kind: MatchExact, Pattern: "x", Category: "database"}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewClassifier(cfg)
			if !errors.Is(err, graph.ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
			if graph.CategoryOf(err) != graph.CategoryConfiguration {
				t.Fatalf("category = %q", graph.CategoryOf(err))
			}
		})
	}
}

func TestNewClassifier_ReportsAllProblems(t *testing.T) {
	_, err := NewClassifier(Config{Patterns: []PatternConfig{
		{Kind: MatchRegex, Pattern: "(", Category: "random"},
		{Kind: MatchExact, Pattern: "ok", Category: "random"},
		{Kind: MatchExact, Pattern: "x", Category: "nope"},
	}})
	var ge *graph.Error
	if !errors.As(err, &ge) {
		t.Fatalf("expected *graph.Error, got %v", err)
	}
	if ge.Context["problems"] != "2" {
		t.Fatalf("problems = %q, want 2", ge.Context["problems"])
	}
}

func TestClassifyGraph(t *testing.T) {
	serde := node("serde")
	ring := node("ring")
	g, err := graph.New("demo", "cargo", []graph.Node{serde, ring}, nil)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	c, err := NewClassifier(Config{Overrides: map[string]string{"ring": "cryptography"}})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	out, err := c.ClassifyGraph(g)
	if err != nil {
		t.Fatalf("ClassifyGraph: %v", err)
	}
	for _, n := range out.Nodes() {
		switch n.Name {
		case "ring":
			if !n.Classification.Tcs {
				t.Fatalf("ring not classified Tcs")
			}
		case "serde":
			if n.Classification.Tcs {
				t.Fatalf("serde classified Tcs")
			}
		}
	}
}

func TestClassifyFunction(t *testing.T) {
	got, err := Classify(node("ring"), map[string]graph.Category{"ring": graph.Cryptography}, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !got.Tcs || got.Signals[0].Kind != graph.SignalExplicitOverride {
		t.Fatalf("got %+v", got)
	}
	if _, err := Classify(node("x"), nil, []PatternConfig{{Kind: MatchRegex, Pattern: "(", Category: "random"}}); err == nil {
		t.Fatalf("expected configuration error")
	}
}
