package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"crowdloc/internal/config"
	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
)

// MaxReportedViolations caps the per-key violation list returned to the
// caller; the total count is always reported alongside.
const MaxReportedViolations = 10

// Report lists the rejected keys of an uploaded file.
type Report struct {
	Violations []models.Violation `json:"violations"` // first MaxReportedViolations only
	Total      int                `json:"total"`
}

func (r *Report) add(key, reason string) {
	if len(r.Violations) < MaxReportedViolations {
		r.Violations = append(r.Violations, models.Violation{Key: key, Reason: reason})
	}
	r.Total++
}

// Parse decodes a flat translation file into its canonical in-memory
// form. Non-object content fails with a format error; a missing lineage
// id fails with a validation error. Per-key shape problems are collected
// into the report rather than failing the parse, so the caller can
// surface them as a structured list. Legacy bare-string values are
// normalized to tag A here, at the boundary.
func Parse(raw []byte) (*models.Content, *Report, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		// JSON null unmarshals into a nil map without error.
		return nil, nil, &domain.FormatError{Message: "content is not a JSON object"}
	}

	content := &models.Content{
		Entries: make(map[string]models.Entry),
		Meta:    make(map[string]json.RawMessage),
	}
	report := &Report{}

	for key, val := range top {
		if strings.HasPrefix(key, "_") {
			content.Meta[key] = val
			continue
		}
		if len(key) > config.MaxKeyLength {
			report.add(key[:config.MaxKeyLength], "key exceeds maximum length")
			continue
		}
		entry, reason := parseEntry(val)
		if reason != "" {
			report.add(key, reason)
			continue
		}
		content.Entries[key] = entry
	}

	rawUUID, ok := content.Meta[models.MetaLineageKey]
	if !ok {
		return nil, nil, &domain.ValidationError{Message: "missing lineage id (_uuid)"}
	}
	if err := json.Unmarshal(rawUUID, &content.LineageID); err != nil || content.LineageID == "" {
		return nil, nil, &domain.ValidationError{Message: "lineage id (_uuid) must be a non-empty string"}
	}

	return content, report, nil
}

// parseEntry normalizes one value into the canonical {value, tag} shape.
// Returns a non-empty reason when the shape is invalid.
func parseEntry(raw json.RawMessage) (models.Entry, string) {
	// Legacy shape: a bare string is an unreviewed machine value.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return models.Entry{Value: &s, Tag: models.TagAI}, ""
	}

	var obj struct {
		Value json.RawMessage `json:"value"`
		Tag   json.RawMessage `json:"tag"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || bytes.Equal(raw, []byte("null")) {
		return models.Entry{}, "expected {value, tag} object or string"
	}

	var entry models.Entry
	if len(obj.Value) > 0 && !bytes.Equal(obj.Value, []byte("null")) {
		var v string
		if err := json.Unmarshal(obj.Value, &v); err != nil {
			return models.Entry{}, "value must be a string or null"
		}
		entry.Value = &v
	}

	var tag string
	if len(obj.Tag) == 0 {
		return models.Entry{}, "missing tag"
	}
	if err := json.Unmarshal(obj.Tag, &tag); err != nil || !models.Tag(tag).Valid() {
		return models.Entry{}, "tag must be one of H, V, A, M, S"
	}
	entry.Tag = models.Tag(tag)

	return entry, ""
}

// Marshal serializes content back to its on-disk form: metadata keys
// verbatim (with _uuid reflecting the current lineage id) plus every
// entry in the canonical {value, tag} shape, keys sorted, Unicode and
// slashes unescaped.
func Marshal(content *models.Content) ([]byte, error) {
	out := make(map[string]any, len(content.Entries)+len(content.Meta))
	for k, raw := range content.Meta {
		out[k] = raw
	}
	out[models.MetaLineageKey] = content.LineageID
	for k, e := range content.Entries {
		out[k] = e
	}
	return encode(out)
}

// encode marshals with HTML escaping disabled so Unicode and slash
// characters survive verbatim; map keys are emitted in sorted order.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	// Encoder appends a trailing newline; the digest must not include it.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
