package response

import (
	"strings"
	"testing"
	"time"
)

func TestNewDefaultsToStatusOK(t *testing.T) {
	e := New()
	if e.Kind != KindStatus || e.Code != 200 || e.Message != "OK" {
		t.Fatalf("unexpected default envelope: %+v", e)
	}
}

func TestSendInfersContentType(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  string
	}{
		{"map", map[string]any{"a": 1}, MIMEJSON},
		{"slice", []int{1, 2}, MIMEJSON},
		{"struct pointer", &struct{ A int }{1}, MIMEJSON},
		{"string", "hello", MIMEText},
		{"bytes", []byte{1, 2}, MIMEOctetStream},
		{"number", 42, MIMEOctetStream},
	}
	for _, tc := range cases {
		e := Send(tc.value)
		if e.ContentType != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, e.ContentType)
		}
		if e.Kind != KindSend {
			t.Fatalf("%s: expected send kind, got %s", tc.name, e.Kind)
		}
	}

	if got := Send(42).Payload.([]byte); string(got) != "42" {
		t.Fatalf("scalar payload should be rendered, got %q", got)
	}
}

func TestSendKeepsEnvelope(t *testing.T) {
	original := JSON(map[string]string{"id": "1"}, 201)
	if Send(original) != original {
		t.Fatalf("Send should return the envelope unchanged")
	}
}

func TestStatusBuilderKeepsCode(t *testing.T) {
	e := Status(404, "missing").JSON(map[string]string{"error": "nope"})
	if e.Code != 404 || e.Message != "missing" || e.Kind != KindJSON {
		t.Fatalf("builder lost status information: %+v", e)
	}
	if e.Status != "Not Found" {
		t.Fatalf("unexpected reason phrase %q", e.Status)
	}
}

func TestUnknownStatusCodePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("unknown code should panic")
		}
	}()
	Status(299)
}

func TestTeapotIsKnown(t *testing.T) {
	if r, ok := Reason(418); !ok || r != "I'm a teapot" {
		t.Fatalf("unexpected teapot reason %q", r)
	}
}

func TestHTMLAndDisposition(t *testing.T) {
	e := HTML("<p>x</p>").WithDisposition(true, "report final.html")
	if e.Headers["X-Content-Type-Options"] != "nosniff" {
		t.Fatalf("html should set nosniff")
	}
	if !strings.HasPrefix(e.Disposition, "attachment;") || !strings.Contains(e.Disposition, "report final.html") {
		t.Fatalf("unexpected disposition %q", e.Disposition)
	}
}

func TestStreamRejectsUnsupportedSource(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("unsupported stream source should panic")
		}
	}()
	Stream(42, "", -1)
}

func TestStreamAcceptsFuncLiteral(t *testing.T) {
	e := Stream(func(start, end int64) ([]byte, error) { return nil, nil }, "video/mp4", -1)
	if _, ok := e.Payload.(StreamFunc); !ok {
		t.Fatalf("func literal should be normalized to StreamFunc, got %T", e.Payload)
	}
}

func TestStampAndDeepClone(t *testing.T) {
	start := time.Now()
	e := JSON(map[string]any{"n": 1}).WithHeader("X-A", "1").Stamp(start, start.Add(1500*time.Millisecond))
	if e.Timing.Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected duration %v", e.Timing.Duration)
	}

	clone := e.DeepClone().(*Envelope)
	clone.Headers["X-A"] = "2"
	clone.Payload.(map[string]any)["n"] = 2
	if e.Headers["X-A"] != "1" || e.Payload.(map[string]any)["n"] != 1 {
		t.Fatalf("DeepClone shares state with original")
	}
}
