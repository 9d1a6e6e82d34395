package graph

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

const crates = "https://github.com/rust-lang/crates.io-index"

func reg(name, version, sum string) Identity {
	return Identity{Name: name, Version: version, Source: RegistrySource(crates, sum)}
}

func sampleNodes() ([]Node, []Edge) {
	serde := reg("serde", "1.0.210", "c1")
	ring := reg("ring", "0.17.8", "c2")
	cc := reg("cc", "1.1.0", "c3")
	gitDep := Identity{Name: "tokio", Version: "1.40.0", Source: GitSource("https://github.com/tokio-rs/tokio", "abc123", "branch=master")}
	local := Identity{Name: "app", Version: "0.1.0", Source: LocalSource(".")}

	nodes := []Node{
		{Identity: local},
		{Identity: serde, Annotations: Annotations{"cargo.features": "derive,std"}},
		{Identity: ring},
		{Identity: cc, Kind: KindBuild},
		{Identity: gitDep},
	}
	edges := []Edge{
		{From: local, To: serde},
		{From: local, To: ring},
		{From: local, To: gitDep},
		{From: ring, To: cc, Kind: KindBuild},
	}
	return nodes, edges
}

func TestNew_CanonicalOrderInvariantToInputOrder(t *testing.T) {
	nodes, edges := sampleNodes()
	base, err := New("demo", "cargo", nodes, edges)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	baseJSON, err := base.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		n2 := append([]Node(nil), nodes...)
		e2 := append([]Edge(nil), edges...)
		r.Shuffle(len(n2), func(a, b int) { n2[a], n2[b] = n2[b], n2[a] })
		r.Shuffle(len(e2), func(a, b int) { e2[a], e2[b] = e2[b], e2[a] })

		g, err := New("demo", "cargo", n2, e2)
		if err != nil {
			t.Fatalf("New (shuffle %d): %v", i, err)
		}
		if g.Digest() != base.Digest() {
			t.Fatalf("digest changed under shuffle %d", i)
		}
		b, err := g.CanonicalJSON()
		if err != nil {
			t.Fatalf("CanonicalJSON: %v", err)
		}
		if !bytes.Equal(b, baseJSON) {
			t.Fatalf("canonical JSON changed under shuffle %d:\n%s\n%s", i, b, baseJSON)
		}
	}

	got := base.Nodes()
	want := []string{"app", "cc", "ring", "serde", "tokio"}
	for i, n := range got {
		if n.Name != want[i] {
			t.Fatalf("node[%d] = %s, want %s", i, n.Name, want[i])
		}
	}
}

func TestNew_SameNameVersionOrdersBySourceDiscriminant(t *testing.T) {
	a := Identity{Name: "foo", Version: "1.0.0", Source: LocalSource("foo")}
	b := Identity{Name: "foo", Version: "1.0.0", Source: GitSource("https://example.com/foo", "deadbeef", "")}
	c := reg("foo", "1.0.0", "x")

	g, err := New("p", "cargo", []Node{{Identity: a}, {Identity: b}, {Identity: c}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	nodes := g.Nodes()
	kinds := []SourceKind{nodes[0].Source.Kind, nodes[1].Source.Kind, nodes[2].Source.Kind}
	if kinds[0] != SourceRegistry || kinds[1] != SourceGit || kinds[2] != SourceLocal {
		t.Fatalf("unexpected source order: %v", kinds)
	}
}

func TestNew_ChecksumConflict(t *testing.T) {
	a := reg("serde", "1.0.210", "c1")
	b := reg("serde", "1.0.210", "tampered")
	_, err := New("p", "cargo", []Node{{Identity: a}, {Identity: b}}, nil)
	if !errors.Is(err, ErrChecksumConflict) {
		t.Fatalf("expected ErrChecksumConflict, got %v", err)
	}
	if CodeOf(err) != CodeChecksumConflict {
		t.Fatalf("code = %q", CodeOf(err))
	}
	if CategoryOf(err) != CategoryIdentity {
		t.Fatalf("category = %q", CategoryOf(err))
	}
	var ge *Error
	if !errors.As(err, &ge) || ge.Context["actual"] == "" || ge.Context["expected"] == "" {
		t.Fatalf("expected expected/actual context, got %#v", ge)
	}
}

func TestNew_DuplicateIdentityIsMerged(t *testing.T) {
	id := reg("serde", "1.0.210", "c1")
	g, err := New("p", "cargo", []Node{
		{Identity: id, Kind: KindDev},
		{Identity: id, Kind: KindNormal, Annotations: Annotations{"cargo.edition": "2021"}},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("expected 1 node, got %d", g.Len())
	}
	n, _ := g.Node(id.Key())
	if n.Kind != KindNormal {
		t.Fatalf("kind = %s, want normal", n.Kind)
	}
	if v, _ := n.Annotations.Get("cargo", "edition"); v != "2021" {
		t.Fatalf("annotation lost in merge")
	}
}

func TestNew_GitRefIsNotIdentity(t *testing.T) {
	a := Identity{Name: "x", Version: "0.1.0", Source: GitSource("https://example.com/x", "c0ffee", "branch=main")}
	b := Identity{Name: "x", Version: "0.1.0", Source: GitSource("https://example.com/x", "c0ffee", "tag=v0.1.0")}
	g, err := New("p", "cargo", []Node{{Identity: a}, {Identity: b}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("git ref label should not split identity, got %d nodes", g.Len())
	}
}

func TestNew_DanglingEdge(t *testing.T) {
	a := reg("a", "1.0.0", "1")
	ghost := reg("ghost", "9.9.9", "9")
	_, err := New("p", "cargo", []Node{{Identity: a}}, []Edge{{From: a, To: ghost}})
	if !errors.Is(err, ErrDanglingEdge) {
		t.Fatalf("expected ErrDanglingEdge, got %v", err)
	}
	var ge *Error
	if errors.As(err, &ge) && ge.Context["missing"] != ghost.Key() {
		t.Fatalf("missing context = %q", ge.Context["missing"])
	}
}

func TestDigest_IgnoresAnnotationsAndClassification(t *testing.T) {
	nodes, edges := sampleNodes()
	base, err := New("demo", "cargo", nodes, edges)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	nodes[1].Annotations = Annotations{"cargo.features": "other"}
	alt, err := New("demo", "cargo", nodes, edges)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if alt.Digest() != base.Digest() {
		t.Fatalf("annotations changed digest")
	}

	ring := reg("ring", "0.17.8", "c2")
	classified, err := base.WithClassifications(map[string]Classification{
		ring.Key(): TcsClassification(Cryptography, Signal{Kind: SignalExplicitOverride, Value: "ring"}),
	})
	if err != nil {
		t.Fatalf("WithClassifications: %v", err)
	}
	if classified.Digest() != base.Digest() {
		t.Fatalf("classification changed digest")
	}
	if n, _ := base.Node(ring.Key()); n.Classification.Tcs {
		t.Fatalf("WithClassifications mutated the original graph")
	}
}

func TestWithClassifications_RejectsUnexplainedTcs(t *testing.T) {
	nodes, edges := sampleNodes()
	g, err := New("demo", "cargo", nodes, edges)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = g.WithClassifications(map[string]Classification{
		reg("ring", "0.17.8", "c2").Key(): {Tcs: true, Category: Cryptography},
	})
	if !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	nodes, edges := sampleNodes()
	g, err := New("demo", "cargo", nodes, edges)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g, err = g.WithClassifications(map[string]Classification{
		reg("ring", "0.17.8", "c2").Key(): TcsClassification(Cryptography, Signal{Kind: SignalExplicitOverride, Value: "ring"}),
	})
	if err != nil {
		t.Fatalf("WithClassifications: %v", err)
	}
	b, err := g.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	back, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b2, err := back.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if !bytes.Equal(b, b2) {
		t.Fatalf("round trip changed bytes:\n%s\n%s", b, b2)
	}
}

func TestDecode_RejectsTamperedDigest(t *testing.T) {
	nodes, edges := sampleNodes()
	g, err := New("demo", "cargo", nodes, edges)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, _ := g.CanonicalJSON()
	tampered := bytes.Replace(b, []byte(`"checksum":"c1"`), []byte(`"checksum":"zz"`), 1)
	if _, err := Decode(tampered); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestDependenciesAndDependents(t *testing.T) {
	nodes, edges := sampleNodes()
	g, err := New("demo", "cargo", nodes, edges)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	app := Identity{Name: "app", Version: "0.1.0", Source: LocalSource(".")}
	deps := g.Dependencies(app.Key())
	if len(deps) != 3 || deps[0].Name != "ring" || deps[1].Name != "serde" || deps[2].Name != "tokio" {
		t.Fatalf("unexpected dependencies: %v", deps)
	}
	cc := reg("cc", "1.1.0", "c3")
	dependents := g.Dependents(cc.Key())
	if len(dependents) != 1 || dependents[0].Name != "ring" {
		t.Fatalf("unexpected dependents: %v", dependents)
	}
}

func TestParseCategory(t *testing.T) {
	cases := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{in: "cryptography", want: Cryptography},
		{in: "build_time_execution", want: BuildTimeExecution},
		{in: "custom:database", want: Custom("database")},
		{in: "custom:", wantErr: true},
		{in: "crypto", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseCategory(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseCategory(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseCategory(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestErrorCategories_DistinctFromTrustCategories(t *testing.T) {
	codes := []Code{
		CodeInvalidGraph, CodeLockfileParse, CodeEnrichmentParse, CodeChecksumConflict, CodeDanglingEdge,
		CodeMissingLocalDependency, CodeMissingVendoredPackage, CodePermissionDenied, CodeChecksumMismatch,
		CodeCommitMismatch, CodeEpochInvalidated, CodeConfigurationInvalid, CodeOfflineViolation, CodeToolTimeout,
	}
	for _, c := range codes {
		var cat ErrorCategory = c.Category()
		if cat == "" {
			t.Fatalf("%s has no category", c)
		}
		if _, err := ParseCategory(string(cat)); err == nil {
			t.Fatalf("error category %q parses as a trust category", cat)
		}
	}
}

func TestNode_RoleFromAnnotation(t *testing.T) {
	n := Node{Identity: reg("cc", "1.1.0", "c3"), Kind: KindNormal}
	if n.Role() != KindNormal {
		t.Fatalf("role = %s", n.Role())
	}
	n.Annotations = Annotations{"cargo.dependency_kind": "build"}
	if n.Role() != KindBuild {
		t.Fatalf("annotated role = %s", n.Role())
	}
	n.Kind = KindDev
	if n.Role() != KindDev {
		t.Fatalf("explicit kind should win, got %s", n.Role())
	}

	plain, err := New("p", "cargo", []Node{{Identity: reg("cc", "1.1.0", "c3")}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	annotated, err := New("p", "cargo", []Node{{Identity: reg("cc", "1.1.0", "c3"), Annotations: Annotations{"cargo.dependency_kind": "build"}}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if plain.Digest() != annotated.Digest() {
		t.Fatalf("annotations must not change the digest")
	}
}
