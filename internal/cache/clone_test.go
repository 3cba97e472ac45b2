package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type node struct {
	Name     string
	Children []*node
	Next     *node
	Tags     map[string]string
	Raw      []byte
	At       time.Time
	hidden   int
}

type selfCloning struct{ id int }

func (s selfCloning) DeepClone() any { return selfCloning{id: s.id + 100} }

func TestCloneDeepCopiesNestedValues(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &node{
		Name:     "root",
		Children: []*node{{Name: "child"}},
		Tags:     map[string]string{"k": "v"},
		Raw:      []byte("abc"),
		At:       at,
		hidden:   7,
	}

	out, err := Clone(src)
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}
	if out == src || out.Children[0] == src.Children[0] {
		t.Fatalf("pointers must not be shared")
	}
	if diff := cmp.Diff(src, out, cmp.AllowUnexported(node{})); diff != "" {
		t.Fatalf("clone differs (-src +out):\n%s", diff)
	}

	src.Raw[0] = 'z'
	src.Tags["k"] = "changed"
	if string(out.Raw) != "abc" || out.Tags["k"] != "v" {
		t.Fatalf("clone shares buffers with source")
	}
}

func TestCloneDetectsCycles(t *testing.T) {
	n := &node{Name: "loop"}
	n.Next = n
	if _, err := Clone(n); !errors.Is(err, ErrCircularReference) {
		t.Fatalf("expected ErrCircularReference, got %v", err)
	}

	list := []any{1}
	list[0] = list
	if _, err := Clone[any](list); !errors.Is(err, ErrCircularReference) {
		t.Fatalf("expected slice cycle to be detected, got %v", err)
	}
}

func TestCloneAllowsSharedNonCyclicReferences(t *testing.T) {
	shared := &node{Name: "shared"}
	src := []*node{shared, shared}
	out, err := Clone(src)
	if err != nil {
		t.Fatalf("siblings sharing a pointer are not cycles: %v", err)
	}
	if out[0].Name != "shared" || out[1].Name != "shared" {
		t.Fatalf("unexpected clone: %+v", out)
	}
}

func TestCloneUsesDeepCloner(t *testing.T) {
	out, err := Clone[any](selfCloning{id: 1})
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}
	if out.(selfCloning).id != 101 {
		t.Fatalf("DeepClone was not used: %+v", out)
	}
}

func TestCloneNilValues(t *testing.T) {
	if out, err := Clone[any](nil); err != nil || out != nil {
		t.Fatalf("nil interface should clone to nil, got %v %v", out, err)
	}
	var m map[string]int
	if out, err := Clone(m); err != nil || out != nil {
		t.Fatalf("nil map should stay nil, got %v %v", out, err)
	}
}
