package memo

import (
	"encoding/json"
	"fmt"

	"github.com/any-hub/fsroute/internal/response"
)

// wireEnvelope 是响应在外部存储中的序列化形式；Timing 不保存，调度时会重新打点。
type wireEnvelope struct {
	Kind          response.Kind     `json:"kind"`
	Code          int               `json:"code"`
	Message       string            `json:"message,omitempty"`
	ContentType   string            `json:"content_type,omitempty"`
	ContentLength int64             `json:"content_length,omitempty"`
	Disposition   string            `json:"disposition,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	JSON          json.RawMessage   `json:"json,omitempty"`
	Text          *string           `json:"text,omitempty"`
	Data          []byte            `json:"data,omitempty"`
}

func encodeEnvelope(env *response.Envelope) ([]byte, error) {
	if env == nil || env.Kind == response.KindStream {
		return nil, ErrUncacheable
	}
	w := wireEnvelope{
		Kind:          env.Kind,
		Code:          env.Code,
		Message:       env.Message,
		ContentType:   env.ContentType,
		ContentLength: env.ContentLength,
		Disposition:   env.Disposition,
		Headers:       env.Headers,
	}
	switch payload := env.Payload.(type) {
	case nil:
	case string:
		w.Text = &payload
	case []byte:
		w.Data = payload
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		w.JSON = raw
	}
	return json.Marshal(w)
}

func decodeEnvelope(data []byte) (*response.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	reason, ok := response.Reason(w.Code)
	if !ok {
		return nil, fmt.Errorf("decode envelope: unknown status code %d", w.Code)
	}
	env := &response.Envelope{
		Kind:          w.Kind,
		Code:          w.Code,
		Status:        reason,
		Message:       w.Message,
		ContentType:   w.ContentType,
		ContentLength: w.ContentLength,
		Disposition:   w.Disposition,
		Headers:       w.Headers,
	}
	switch {
	case w.Text != nil:
		env.Payload = *w.Text
	case w.Data != nil:
		env.Payload = w.Data
	case len(w.JSON) > 0:
		var payload any
		if err := json.Unmarshal(w.JSON, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		env.Payload = payload
	}
	return env, nil
}
