package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MediaKind identifies which upload protocol applies to a piece of media.
type MediaKind string

const (
	KindMessagePhoto MediaKind = "message_photo"
	KindMessageDoc   MediaKind = "message_doc"
	KindChatPhoto    MediaKind = "chat_photo"
	KindGroupCover   MediaKind = "group_cover"
	KindAlbumPhoto   MediaKind = "album_photo"
)

// AllMediaKinds lists every supported kind in a stable order.
var AllMediaKinds = []MediaKind{
	KindMessagePhoto,
	KindMessageDoc,
	KindChatPhoto,
	KindGroupCover,
	KindAlbumPhoto,
}

var kindAliases = map[string]MediaKind{
	"photo":    KindMessagePhoto,
	"doc":      KindMessageDoc,
	"document": KindMessageDoc,
	"chat":     KindChatPhoto,
	"cover":    KindGroupCover,
	"album":    KindAlbumPhoto,
}

// ParseMediaKind accepts a kind name or its short alias ("photo", "doc",
// "chat", "cover", "album").
func ParseMediaKind(s string) (MediaKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range AllMediaKinds {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return "", NewSubSystemError("upload", "ParseMediaKind", ErrUnsupportedKind, s)
}

// DocType is the document-type tag sent when negotiating a document upload.
type DocType string

const (
	DocTypeDoc          DocType = "doc"
	DocTypeAudioMessage DocType = "audio_message"
	DocTypeGraffiti     DocType = "graffiti"
)

// Valid reports whether d is a document type the platform accepts.
func (d DocType) Valid() bool {
	switch d {
	case DocTypeDoc, DocTypeAudioMessage, DocTypeGraffiti:
		return true
	}
	return false
}

// ParseDocType converts a user-supplied tag; the empty string means DocTypeDoc.
func ParseDocType(s string) (DocType, error) {
	if s == "" {
		return DocTypeDoc, nil
	}
	d := DocType(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", NewSubSystemError("upload", "ParseDocType", ErrInvalidDocType, s)
	}
	return d, nil
}

// MediaReference is the classified form of a user-supplied media string.
// The concrete variants are LocalPath, RemoteURL and InvalidReference.
type MediaReference interface {
	isMediaReference()
	String() string
}

// LocalPath is a reference to an existing file on the local filesystem.
type LocalPath struct{ Path string }

// RemoteURL is a reference to media reachable over HTTP(S).
type RemoteURL struct{ URL string }

// InvalidReference is neither an existing path nor a parseable URL.
type InvalidReference struct{ Raw string }

func (LocalPath) isMediaReference()        {}
func (RemoteURL) isMediaReference()        {}
func (InvalidReference) isMediaReference() {}

func (r LocalPath) String() string        { return r.Path }
func (r RemoteURL) String() string        { return r.URL }
func (r InvalidReference) String() string { return r.Raw }

// MediaPayload is the materialized media handed to an upload session.
// FileName is only populated for documents.
type MediaPayload struct {
	Data     []byte
	FileName string
}

// Empty reports whether the payload carries no bytes.
func (p MediaPayload) Empty() bool { return len(p.Data) == 0 }

// UploadTarget is the one-time upload URL returned by a negotiation call.
type UploadTarget struct {
	URL     string
	AlbumID int64
}

// AttachmentID is the token the messaging platform accepts as a message attachment.
type AttachmentID string

// NewAttachmentID formats "<tag><owner>_<id>", e.g. photo123_456.
func NewAttachmentID(tag string, ownerID, id int64) AttachmentID {
	return AttachmentID(fmt.Sprintf("%s%d_%d", tag, ownerID, id))
}

// Result is the outcome of a successful upload session. Message photo, document
// and album flows set Attachment; chat photo and cover flows return the raw save
// response in Raw instead.
type Result struct {
	Kind       MediaKind       `json:"kind"`
	Attachment AttachmentID    `json:"attachment,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// String returns the attachment id, or the raw response when there is none.
func (r Result) String() string {
	if r.Attachment != "" {
		return string(r.Attachment)
	}
	return string(r.Raw)
}

// ResultHandler receives the outcome of an asynchronous upload exactly once.
// On failure res is the zero Result and err is non-nil.
type ResultHandler func(res Result, err error)
