package upload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"vkmedia/internal/domain"
)

// Response shapes. Each is compiled once and validated against the decoded
// response before any field is read.
const (
	negotiateSchemaSrc = `{
		"type": "object",
		"required": ["upload_url"],
		"properties": {
			"upload_url": {"type": "string", "minLength": 1},
			"album_id":   {"type": "integer"}
		}
	}`
	photoReceiptSchemaSrc = `{
		"type": "object",
		"required": ["photo", "server", "hash"],
		"properties": {
			"photo":  {"type": "string", "minLength": 1},
			"server": {"type": ["integer", "string"]},
			"hash":   {"type": "string", "minLength": 1}
		}
	}`
	docReceiptSchemaSrc = `{
		"type": "object",
		"required": ["file"],
		"properties": {"file": {"type": "string", "minLength": 1}}
	}`
	chatReceiptSchemaSrc = `{
		"type": "object",
		"required": ["response"],
		"properties": {"response": {"type": "string", "minLength": 1}}
	}`
	coverReceiptSchemaSrc = `{
		"type": "object",
		"required": ["hash", "photo"],
		"properties": {
			"hash":  {"type": "string", "minLength": 1},
			"photo": {"type": "string", "minLength": 1}
		}
	}`
	savedSchemaSrc = `{
		"type": "array",
		"minItems": 1,
		"items": {
			"type": "object",
			"required": ["owner_id", "id"],
			"properties": {
				"owner_id": {"type": "integer"},
				"id":       {"type": "integer"}
			}
		}
	}`
)

var (
	negotiateSchema    = mustCompile("negotiate.json", negotiateSchemaSrc)
	photoReceiptSchema = mustCompile("photo_receipt.json", photoReceiptSchemaSrc)
	docReceiptSchema   = mustCompile("doc_receipt.json", docReceiptSchemaSrc)
	chatReceiptSchema  = mustCompile("chat_receipt.json", chatReceiptSchemaSrc)
	coverReceiptSchema = mustCompile("cover_receipt.json", coverReceiptSchemaSrc)
	savedSchema        = mustCompile("saved.json", savedSchemaSrc)
)

func mustCompile(name, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("add schema resource %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// maxDetail bounds how much of a raw response is echoed into error details.
const maxDetail = 512

func clip(s string) string {
	if len(s) <= maxDetail {
		return s
	}
	return s[:maxDetail] + "..."
}

// IsFalseToken reports whether raw is the platform's call-level rejection
// marker: the word false, in any case, optionally quoted or padded.
func IsFalseToken(raw []byte) bool {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	return strings.EqualFold(strings.TrimSpace(s), "false")
}

// CheckUploadText applies the upload server's text-level acceptance rules:
// the body must be at least two characters, must not mention "error" and must
// contain marker.
func CheckUploadText(text, marker string) error {
	if len(text) < 2 || strings.Contains(text, "error") || !strings.Contains(text, marker) || IsFalseToken([]byte(text)) {
		return domain.NewSubSystemError("upload", "upload.transfer", domain.ErrUploadRejected, clip(text))
	}
	return nil
}

// decodeValue parses raw into the generic form the schema validator expects,
// keeping numbers exact.
func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// firstCause names the deepest failing location of a schema validation error.
func firstCause(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}

// parseNegotiation extracts the upload target from a negotiation response.
func parseNegotiation(raw json.RawMessage) (domain.UploadTarget, error) {
	const op = "upload.negotiate"
	if IsFalseToken(raw) {
		return domain.UploadTarget{}, domain.NewSubSystemError("upload", op, domain.ErrCallRejected, string(raw))
	}
	v, err := decodeValue(raw)
	if err != nil {
		return domain.UploadTarget{}, domain.NewSubSystemError("upload", op, domain.ErrMalformedNegotiation, clip(string(raw)))
	}
	if err := negotiateSchema.Validate(v); err != nil {
		if _, isObject := v.(map[string]any); !isObject {
			return domain.UploadTarget{}, domain.NewSubSystemError("upload", op, domain.ErrMalformedNegotiation, clip(string(raw)))
		}
		return domain.UploadTarget{}, domain.NewSubSystemError("upload", op, domain.ErrNoUploadTarget,
			firstCause(err)+" in "+clip(string(raw)))
	}

	var out struct {
		UploadURL string `json:"upload_url"`
		AlbumID   int64  `json:"album_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.UploadTarget{}, domain.NewSubSystemError("upload", op, domain.ErrMalformedNegotiation, clip(string(raw)))
	}
	return domain.UploadTarget{URL: out.UploadURL, AlbumID: out.AlbumID}, nil
}

// receipt holds the fields an upload server returned, already stringified for
// use as save-call parameters.
type receipt map[string]string

// parseReceipt validates the upload server's body against schema and returns
// the named fields. The text rules of CheckUploadText are applied first.
func parseReceipt(text, marker string, schema *jsonschema.Schema, fields []string) (receipt, error) {
	const op = "upload.transfer"
	if err := CheckUploadText(text, marker); err != nil {
		return nil, err
	}
	v, err := decodeValue([]byte(text))
	if err != nil {
		return nil, domain.NewSubSystemError("upload", op, domain.ErrMalformedUpload, clip(text))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, domain.NewSubSystemError("upload", op, domain.ErrMalformedUpload, clip(text))
	}
	if err := schema.Validate(v); err != nil {
		return nil, domain.NewSubSystemError("upload", op, domain.ErrIncompleteUpload,
			firstCause(err)+" in "+clip(text))
	}

	out := make(receipt, len(fields))
	for _, f := range fields {
		switch val := obj[f].(type) {
		case string:
			out[f] = val
		case json.Number:
			out[f] = val.String()
		default:
			return nil, domain.NewSubSystemError("upload", op, domain.ErrIncompleteUpload,
				fmt.Sprintf("field %q in %s", f, clip(text)))
		}
	}
	return out, nil
}

// parseSaved builds the attachment id from the first saved resource.
func parseSaved(raw json.RawMessage, tag string) (domain.AttachmentID, error) {
	const op = "upload.persist"
	if IsFalseToken(raw) {
		return "", domain.NewSubSystemError("upload", op, domain.ErrSaveRejected, string(raw))
	}
	v, err := decodeValue(raw)
	if err != nil {
		return "", domain.NewSubSystemError("upload", op, domain.ErrMalformedSave, clip(string(raw)))
	}
	if err := savedSchema.Validate(v); err != nil {
		return "", domain.NewSubSystemError("upload", op, domain.ErrMalformedSave,
			firstCause(err)+" in "+clip(string(raw)))
	}

	var saved []struct {
		OwnerID int64 `json:"owner_id"`
		ID      int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &saved); err != nil {
		return "", domain.NewSubSystemError("upload", op, domain.ErrMalformedSave, clip(string(raw)))
	}
	return domain.NewAttachmentID(tag, saved[0].OwnerID, saved[0].ID), nil
}

// parseRawSave accepts any well-formed save response other than the
// rejection token and returns it unchanged.
func parseRawSave(raw json.RawMessage) (json.RawMessage, error) {
	const op = "upload.persist"
	if IsFalseToken(raw) {
		return nil, domain.NewSubSystemError("upload", op, domain.ErrSaveRejected, string(raw))
	}
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return nil, domain.NewSubSystemError("upload", op, domain.ErrMalformedSave, clip(string(raw)))
	}
	return raw, nil
}
