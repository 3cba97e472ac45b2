package pathmatch

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseNormalizesMarkers(t *testing.T) {
	cases := map[string]string{
		"/user/$id/":          "user/[id]",
		"user/[id]":           "user/[id]",
		`api\:org\repos`:      "api/[org]/repos",
		"//files/[...path]":   "files/[...path]",
		"files/*rest":         "files/[...rest]",
		"static/*":            "static/*",
		"./a/./b":             "a/b",
		"/":                   "",
		"":                    "",
	}
	for input, want := range cases {
		p, err := Parse(input)
		if err != nil {
			t.Fatalf("parse %q failed: %v", input, err)
		}
		if got := p.String(); got != want {
			t.Fatalf("parse %q: expected %q, got %q", input, want, got)
		}
	}
}

func TestParseRejectsDuplicateParams(t *testing.T) {
	if _, err := Parse("a/[id]/b/$id"); !errors.Is(err, ErrDuplicateParam) {
		t.Fatalf("expected ErrDuplicateParam, got %v", err)
	}
	if _, err := Parse("a/[...rest]/b"); !errors.Is(err, ErrWildcardNotLast) {
		t.Fatalf("expected ErrWildcardNotLast, got %v", err)
	}
}

func TestMatchesRequiresExactLengthWithoutWildcard(t *testing.T) {
	p := MustParse("user/[id]/posts")
	matches := []string{"/user/42/posts", "user/abc/posts/"}
	misses := []string{"/user/42", "/user/42/posts/1", "/users/42/posts", "/User/42/posts"}

	for _, c := range matches {
		if !p.Matches(c) {
			t.Fatalf("expected %q to match", c)
		}
	}
	for _, c := range misses {
		if p.Matches(c) {
			t.Fatalf("expected %q not to match", c)
		}
	}
}

func TestWildcardAcceptsZeroOrMoreSegments(t *testing.T) {
	p := MustParse("files/[...path]")
	for _, c := range []string{"/files", "/files/a", "/files/a/b/c"} {
		if !p.Matches(c) {
			t.Fatalf("expected %q to match", c)
		}
	}
	if p.Matches("/other/a") {
		t.Fatalf("literal prefix must still match")
	}

	vars := p.ExtractVariables("/files/a/b%20c")
	if vars.Params["path"] != "a/b c" {
		t.Fatalf("unexpected wildcard value %q", vars.Params["path"])
	}
	if empty := p.ExtractVariables("/files"); empty.Params["path"] != "" {
		t.Fatalf("empty wildcard should bind empty string, got %q", empty.Params["path"])
	}
}

func TestExtractVariablesReturnsOnlyDeclaredNames(t *testing.T) {
	p := MustParse("org/[org]/repo/$repo")
	vars := p.ExtractVariables("/org/any%2Dhub/repo/fs%20route")

	want := map[string]string{"org": "any-hub", "repo": "fs route"}
	if diff := cmp.Diff(want, vars.Params); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}
	if vars.Length != 4 {
		t.Fatalf("expected length metadata 4, got %d", vars.Length)
	}
}

func TestExtractVariablesKeepsInvalidEscapes(t *testing.T) {
	vars := MustParse("q/[term]").ExtractVariables("/q/100%")
	if vars.Params["term"] != "100%" {
		t.Fatalf("invalid escape should be kept raw, got %q", vars.Params["term"])
	}
}

func TestStaticAndParamNames(t *testing.T) {
	if !MustParse("a/b").Static() {
		t.Fatalf("literal pattern should be static")
	}
	p := MustParse("a/[x]/[...y]")
	if p.Static() {
		t.Fatalf("param pattern should not be static")
	}
	if diff := cmp.Diff([]string{"x", "y"}, p.ParamNames()); diff != "" {
		t.Fatalf("names mismatch: %s", diff)
	}
}
