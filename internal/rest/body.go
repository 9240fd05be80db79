package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// BodyKind selects how a request body is encoded.
type BodyKind int

const (
	KindJSON BodyKind = iota
	KindMultipart
	KindRaw
)

func (k BodyKind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindMultipart:
		return "multipart"
	case KindRaw:
		return "raw"
	}
	return "unknown"
}

// ParseBodyKind accepts "json", "multipart" and "raw". Empty means json.
func ParseBodyKind(s string) (BodyKind, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return KindJSON, nil
	case "multipart":
		return KindMultipart, nil
	case "raw":
		return KindRaw, nil
	}
	return 0, fmt.Errorf("rest: unknown body kind %q", s)
}

// File is an attachment sent with a multipart request under the "file" key.
type File struct {
	Name string
	Data []byte
}

// RawBody is an already encoded body, forwarded as is.
type RawBody struct {
	ContentType string
	Data        []byte
}

type encoded struct {
	body        io.Reader
	contentType string
	query       url.Values
	reason      string
}

// useQuery reports whether a JSON body travels as query parameters.
func useQuery(method, path string) bool {
	return method == http.MethodGet || strings.Contains(path, "/bans") || strings.Contains(path, "/prune")
}

func encodeBody(method, path string, kind BodyKind, body any) (encoded, error) {
	switch kind {
	case KindRaw:
		return encodeRaw(body)
	case KindMultipart:
		return encodeMultipart(body)
	default:
		return encodeJSON(method, path, body)
	}
}

func encodeJSON(method, path string, body any) (encoded, error) {
	payload, reason, err := splitReason(body)
	if err != nil {
		return encoded{}, err
	}
	out := encoded{reason: reason}
	if payload == nil {
		return out, nil
	}

	if useQuery(method, path) {
		fields, ok := payload.(map[string]any)
		if !ok {
			return encoded{}, ErrQueryBody
		}
		out.query = toQuery(fields)
		return out, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return encoded{}, fmt.Errorf("rest: encode body: %w", err)
	}
	out.body = bytes.NewReader(raw)
	out.contentType = "application/json"
	return out, nil
}

func encodeMultipart(body any) (encoded, error) {
	var file *File
	if fields, ok := body.(map[string]any); ok {
		if f, ok := fields["file"]; ok {
			switch v := f.(type) {
			case File:
				file = &v
			case *File:
				file = v
			}
			if file != nil {
				rest := make(map[string]any, len(fields)-1)
				for k, v := range fields {
					if k != "file" {
						rest[k] = v
					}
				}
				body = rest
			}
		}
	}

	payload, reason, err := splitReason(body)
	if err != nil {
		return encoded{}, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if file != nil {
		h := make(textproto.MIMEHeader)
		disposition := `form-data; name="file"`
		if file.Name != "" {
			disposition += fmt.Sprintf(`; filename="%s"`, escapeQuotes(file.Name))
		}
		h.Set("Content-Disposition", disposition)
		h.Set("Content-Type", "application/octet-stream")
		part, err := mw.CreatePart(h)
		if err != nil {
			return encoded{}, fmt.Errorf("rest: encode file: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return encoded{}, fmt.Errorf("rest: encode file: %w", err)
		}
	}

	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return encoded{}, fmt.Errorf("rest: encode payload_json: %w", err)
	}
	if err := mw.WriteField("payload_json", string(raw)); err != nil {
		return encoded{}, fmt.Errorf("rest: encode payload_json: %w", err)
	}
	if err := mw.Close(); err != nil {
		return encoded{}, fmt.Errorf("rest: encode multipart: %w", err)
	}

	return encoded{body: &buf, contentType: mw.FormDataContentType(), reason: reason}, nil
}

func encodeRaw(body any) (encoded, error) {
	switch v := body.(type) {
	case nil:
		return encoded{}, nil
	case RawBody:
		return encoded{body: bytes.NewReader(v.Data), contentType: v.ContentType}, nil
	case *RawBody:
		return encoded{body: bytes.NewReader(v.Data), contentType: v.ContentType}, nil
	case []byte:
		return encoded{body: bytes.NewReader(v)}, nil
	}
	return encoded{}, fmt.Errorf("rest: raw body must be RawBody or []byte, got %T", body)
}

// splitReason removes the audit log reason from an object body. Bodies that
// are not maps are round-tripped through JSON first so struct fields tagged
// "reason" are found too; non-object bodies are passed through.
func splitReason(body any) (any, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case map[string]any:
		reason, ok := v["reason"].(string)
		if !ok {
			return v, "", nil
		}
		rest := make(map[string]any, len(v)-1)
		for k, val := range v {
			if k != "reason" {
				rest[k] = val
			}
		}
		return rest, reason, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("rest: encode body: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return json.RawMessage(raw), "", nil
	}
	return splitReason(fields)
}

func toQuery(fields map[string]any) url.Values {
	q := make(url.Values, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case nil:
		case []string:
			for _, s := range val {
				q.Add(k, s)
			}
		case []any:
			for _, item := range val {
				if item != nil {
					q.Add(k, fmt.Sprint(item))
				}
			}
		default:
			q.Set(k, fmt.Sprint(val))
		}
	}
	return q
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
