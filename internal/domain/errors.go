package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Every upload failure wraps exactly one of these so callers
// can tell at which stage of the pipeline a session stopped.
var (
	ErrSourceResolution = fmt.Errorf("source resolution failed")
	ErrNegotiation      = fmt.Errorf("upload negotiation failed")
	ErrTransfer         = fmt.Errorf("upload transfer failed")
	ErrPersist          = fmt.Errorf("upload persist failed")
	ErrParameter        = fmt.Errorf("invalid upload parameter")
)

// Reason sentinels, grouped by category.
var (
	ErrBadReference = fmt.Errorf("bad reference format: %w", ErrSourceResolution)
	ErrReadFailed   = fmt.Errorf("read error: %w", ErrSourceResolution)
	ErrFetchFailed  = fmt.Errorf("fetch error: %w", ErrSourceResolution)

	ErrCallRejected         = fmt.Errorf("negotiation rejected: %w", ErrNegotiation)
	ErrNoUploadTarget       = fmt.Errorf("no upload target: %w", ErrNegotiation)
	ErrMalformedNegotiation = fmt.Errorf("malformed negotiation response: %w", ErrNegotiation)

	ErrMIMEDetection      = fmt.Errorf("mime detection error: %w", ErrTransfer)
	ErrUploadRequest      = fmt.Errorf("upload request error: %w", ErrTransfer)
	ErrUploadRejected     = fmt.Errorf("upload rejected: %w", ErrTransfer)
	ErrMalformedUpload    = fmt.Errorf("malformed upload response: %w", ErrTransfer)
	ErrIncompleteUpload   = fmt.Errorf("incomplete upload response: %w", ErrTransfer)
	ErrSaveRejected       = fmt.Errorf("save rejected: %w", ErrPersist)
	ErrMalformedSave      = fmt.Errorf("malformed save response: %w", ErrPersist)
	ErrMissingGroup       = fmt.Errorf("group id is required: %w", ErrParameter)
	ErrMissingAlbum       = fmt.Errorf("album id is required: %w", ErrParameter)
	ErrEmptyPayload       = fmt.Errorf("empty payload: %w", ErrParameter)
	ErrInvalidDocType     = fmt.Errorf("invalid document type: %w", ErrParameter)
	ErrUnsupportedKind    = fmt.Errorf("unsupported media kind: %w", ErrParameter)
	ErrClientClosed       = fmt.Errorf("api client closed")
	ErrAPIUnavailable     = fmt.Errorf("api unavailable")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrManifestInvalid    = fmt.Errorf("invalid batch manifest")
	ErrAPICallFailed      = fmt.Errorf("api call failed")
	ErrResponseTooLarge   = fmt.Errorf("response exceeds size limit")
	ErrUnexpectedResponse = fmt.Errorf("unexpected api response")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Upload.Negotiate")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail, usually the raw response or input
	SubSystem string // subsystem identifier (e.g., "upload", "vkapi")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for logs and metrics labels.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeBadReference       ErrorCode = "BAD_REFERENCE"
	CodeReadFailed         ErrorCode = "READ_FAILED"
	CodeFetchFailed        ErrorCode = "FETCH_FAILED"
	CodeCallRejected       ErrorCode = "CALL_REJECTED"
	CodeNoUploadTarget     ErrorCode = "NO_UPLOAD_TARGET"
	CodeMalformedNegotiate ErrorCode = "MALFORMED_NEGOTIATION"
	CodeMIMEDetection      ErrorCode = "MIME_DETECTION"
	CodeUploadRequest      ErrorCode = "UPLOAD_REQUEST"
	CodeUploadRejected     ErrorCode = "UPLOAD_REJECTED"
	CodeMalformedUpload    ErrorCode = "MALFORMED_UPLOAD"
	CodeIncompleteUpload   ErrorCode = "INCOMPLETE_UPLOAD"
	CodeSaveRejected       ErrorCode = "SAVE_REJECTED"
	CodeMalformedSave      ErrorCode = "MALFORMED_SAVE"
	CodeMissingGroup       ErrorCode = "MISSING_GROUP"
	CodeMissingAlbum       ErrorCode = "MISSING_ALBUM"
	CodeEmptyPayload       ErrorCode = "EMPTY_PAYLOAD"
	CodeInvalidDocType     ErrorCode = "INVALID_DOC_TYPE"
	CodeUnsupportedKind    ErrorCode = "UNSUPPORTED_KIND"
	CodeClientClosed       ErrorCode = "CLIENT_CLOSED"
	CodeAPIUnavailable     ErrorCode = "API_UNAVAILABLE"
	CodeAPICallFailed      ErrorCode = "API_CALL_FAILED"
	CodeResponseTooLarge   ErrorCode = "RESPONSE_TOO_LARGE"
	CodeUnexpectedResponse ErrorCode = "UNEXPECTED_RESPONSE"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodeManifestInvalid    ErrorCode = "MANIFEST_INVALID"
	CodeSourceResolution   ErrorCode = "SOURCE_RESOLUTION"
	CodeNegotiation        ErrorCode = "NEGOTIATION"
	CodeTransfer           ErrorCode = "TRANSFER"
	CodePersist            ErrorCode = "PERSIST"
	CodeParameter          ErrorCode = "PARAMETER"
)

// reasonCodes is checked before categoryCodes so the most specific code wins.
var reasonCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrBadReference, CodeBadReference},
	{ErrReadFailed, CodeReadFailed},
	{ErrFetchFailed, CodeFetchFailed},
	{ErrCallRejected, CodeCallRejected},
	{ErrNoUploadTarget, CodeNoUploadTarget},
	{ErrMalformedNegotiation, CodeMalformedNegotiate},
	{ErrMIMEDetection, CodeMIMEDetection},
	{ErrUploadRequest, CodeUploadRequest},
	{ErrUploadRejected, CodeUploadRejected},
	{ErrMalformedUpload, CodeMalformedUpload},
	{ErrIncompleteUpload, CodeIncompleteUpload},
	{ErrSaveRejected, CodeSaveRejected},
	{ErrMalformedSave, CodeMalformedSave},
	{ErrMissingGroup, CodeMissingGroup},
	{ErrMissingAlbum, CodeMissingAlbum},
	{ErrEmptyPayload, CodeEmptyPayload},
	{ErrInvalidDocType, CodeInvalidDocType},
	{ErrUnsupportedKind, CodeUnsupportedKind},
	{ErrClientClosed, CodeClientClosed},
	{ErrAPIUnavailable, CodeAPIUnavailable},
	{ErrAPICallFailed, CodeAPICallFailed},
	{ErrResponseTooLarge, CodeResponseTooLarge},
	{ErrUnexpectedResponse, CodeUnexpectedResponse},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrDecryption, CodeDecryption},
	{ErrManifestInvalid, CodeManifestInvalid},
}

var categoryCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrSourceResolution, CodeSourceResolution},
	{ErrNegotiation, CodeNegotiation},
	{ErrTransfer, CodeTransfer},
	{ErrPersist, CodePersist},
	{ErrParameter, CodeParameter},
}

// ErrorCodeOf returns the most specific machine-parseable code for err.
// Returns CodeUnknown if no known sentinel is in the chain.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, rc := range reasonCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	for _, cc := range categoryCodes {
		if errors.Is(err, cc.err) {
			return cc.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}

// Stage returns the pipeline stage name ("resolve", "negotiate", "transfer",
// "persist", "parameter") that err belongs to, or "" if it is not an upload error.
func Stage(err error) string {
	switch {
	case errors.Is(err, ErrSourceResolution):
		return "resolve"
	case errors.Is(err, ErrNegotiation):
		return "negotiate"
	case errors.Is(err, ErrTransfer):
		return "transfer"
	case errors.Is(err, ErrPersist):
		return "persist"
	case errors.Is(err, ErrParameter):
		return "parameter"
	}
	return ""
}
