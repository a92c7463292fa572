package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
)

const msgNull = "This field may not be null."

// requestBody is a decoded JSON object or multipart form. Handlers read
// fields through it without caring which encoding the client used.
type requestBody struct {
	fields map[string]json.RawMessage
	form   *multipart.Form
}

var errMalformedBody = errors.New("malformed request body")

// readBody decodes the request body. JSON bodies are capped at the server's
// body limit, multipart bodies at the media limit plus room for the other
// form fields.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (*requestBody, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.media.maxBytes+s.maxBodyBytes)
		if err := r.ParseMultipartForm(s.media.maxBytes); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		return &requestBody{form: r.MultipartForm}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	b := &requestBody{fields: map[string]json.RawMessage{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(data, &b.fields); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	if b.fields == nil {
		// A literal null body.
		b.fields = map[string]json.RawMessage{}
	}
	return b, nil
}

func (b *requestBody) has(name string) bool {
	if b.form != nil {
		_, ok := b.form.Value[name]
		if !ok {
			_, ok = b.form.File[name]
		}
		return ok
	}
	_, ok := b.fields[name]
	return ok
}

// str returns a string field. present is false when the field was not sent;
// val is nil for an explicit JSON null. Non-string values add an error to fe.
func (b *requestBody) str(name string, fe fieldErrors) (val *string, present bool) {
	if b.form != nil {
		vals, ok := b.form.Value[name]
		if !ok || len(vals) == 0 {
			return nil, false
		}
		v := vals[0]
		return &v, true
	}

	raw, ok := b.fields[name]
	if !ok {
		return nil, false
	}
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil, true
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		fe.add(name, msgNotString)
		return nil, true
	}
	return &v, true
}

// list returns a list of strings. Multipart forms repeat the field name once
// per value.
func (b *requestBody) list(name string, fe fieldErrors) (vals []string, present bool) {
	if b.form != nil {
		v, ok := b.form.Value[name]
		return v, ok
	}

	raw, ok := b.fields[name]
	if !ok {
		return nil, false
	}
	if string(bytes.TrimSpace(raw)) == "null" {
		fe.add(name, msgNull)
		return nil, true
	}
	if err := json.Unmarshal(raw, &vals); err != nil {
		fe.add(name, "Expected a list of items.")
		return nil, true
	}
	return vals, true
}

// file returns the named upload, or nil when none was sent.
func (b *requestBody) file(name string) *upload {
	if b.form == nil {
		return nil
	}
	files := b.form.File[name]
	if len(files) == 0 {
		return nil
	}
	return &upload{header: files[0]}
}

// requiredString validates a required, non-blank text field and returns its
// sanitized value. ok is false when an error was recorded.
func requiredString(b *requestBody, name string, maxLen int, partial bool, fe fieldErrors) (val string, present, ok bool) {
	v, present := b.str(name, fe)
	if fe.has(name) {
		return "", present, false
	}
	if !present {
		if !partial {
			fe.add(name, msgRequired)
			return "", false, false
		}
		return "", false, true
	}
	if v == nil {
		fe.add(name, msgNull)
		return "", true, false
	}
	clean := sanitizeText(*v)
	if clean == "" {
		fe.add(name, msgBlank)
		return "", true, false
	}
	if maxLen > 0 && len([]rune(clean)) > maxLen {
		fe.add(name, fmt.Sprintf("Ensure this field has no more than %d characters.", maxLen))
		return "", true, false
	}
	return clean, true, true
}

// optionalString validates a nullable text field. An empty string clears it.
func optionalString(b *requestBody, name string, maxLen int, fe fieldErrors) (val *string, present bool) {
	v, present := b.str(name, fe)
	if !present || fe.has(name) || v == nil {
		return nil, present
	}
	clean := sanitizeText(*v)
	if maxLen > 0 && len([]rune(clean)) > maxLen {
		fe.add(name, fmt.Sprintf("Ensure this field has no more than %d characters.", maxLen))
		return nil, true
	}
	if clean == "" {
		return nil, true
	}
	return &clean, true
}

func invalidPK(id string) string {
	return fmt.Sprintf("Invalid pk %q - object does not exist.", id)
}
