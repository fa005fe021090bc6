package upload

import (
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"vkmedia/internal/domain"
)

// protocol describes the three remote steps of one media kind.
type protocol struct {
	kind domain.MediaKind

	negotiateMethod string
	negotiateParams func(req Request, opts Options) domain.Params

	// field is the multipart form field. namePrefix is the stem of the
	// synthesized file name; empty means the payload's own name is used.
	field      string
	namePrefix string
	marker     string

	receiptSchema *jsonschema.Schema
	receiptFields []string

	saveMethod string
	saveParams func(rec receipt, req Request) domain.Params

	// attachTag is the attachment prefix; empty means the save response is
	// returned as is.
	attachTag string

	// rewriteAlbum enables the aid=3 correction on the negotiated URL.
	rewriteAlbum bool
}

func copyFields(rec receipt, names ...string) domain.Params {
	p := make(domain.Params, len(names))
	for _, n := range names {
		p[n] = rec[n]
	}
	return p
}

var protocols = map[domain.MediaKind]*protocol{
	domain.KindMessagePhoto: {
		kind:            domain.KindMessagePhoto,
		negotiateMethod: "photos.getMessagesUploadServer",
		negotiateParams: func(req Request, _ Options) domain.Params {
			return domain.Params{"peer_id": req.PeerID}
		},
		field:         "photo",
		namePrefix:    "photo",
		marker:        "photo",
		receiptSchema: photoReceiptSchema,
		receiptFields: []string{"photo", "server", "hash"},
		saveMethod:    "photos.saveMessagesPhoto",
		saveParams: func(rec receipt, _ Request) domain.Params {
			return copyFields(rec, "photo", "server", "hash")
		},
		attachTag:    "photo",
		rewriteAlbum: true,
	},
	domain.KindMessageDoc: {
		kind:            domain.KindMessageDoc,
		negotiateMethod: "docs.getMessagesUploadServer",
		negotiateParams: func(req Request, _ Options) domain.Params {
			return domain.Params{"peer_id": req.PeerID, "type": string(req.DocType)}
		},
		field:         "file",
		marker:        "file",
		receiptSchema: docReceiptSchema,
		receiptFields: []string{"file"},
		saveMethod:    "docs.save",
		saveParams: func(rec receipt, _ Request) domain.Params {
			return copyFields(rec, "file")
		},
		attachTag: "doc",
	},
	domain.KindChatPhoto: {
		kind:            domain.KindChatPhoto,
		negotiateMethod: "photos.getChatUploadServer",
		negotiateParams: func(req Request, _ Options) domain.Params {
			return domain.Params{"chat_id": req.ChatID}
		},
		field:         "file",
		namePrefix:    "photo",
		marker:        "response",
		receiptSchema: chatReceiptSchema,
		receiptFields: []string{"response"},
		saveMethod:    "messages.setChatPhoto",
		saveParams: func(rec receipt, _ Request) domain.Params {
			return domain.Params{"file": rec["response"]}
		},
	},
	domain.KindGroupCover: {
		kind:            domain.KindGroupCover,
		negotiateMethod: "photos.getOwnerCoverPhotoUploadServer",
		negotiateParams: func(req Request, opts Options) domain.Params {
			c := opts.CoverCrop
			return domain.Params{
				"group_id": req.GroupID,
				"crop_x":   c.X,
				"crop_y":   c.Y,
				"crop_x2":  c.X2,
				"crop_y2":  c.Y2,
			}
		},
		field:         "photo",
		namePrefix:    "image",
		marker:        "photo",
		receiptSchema: coverReceiptSchema,
		receiptFields: []string{"hash", "photo"},
		saveMethod:    "photos.saveOwnerCoverPhoto",
		saveParams: func(rec receipt, _ Request) domain.Params {
			return copyFields(rec, "hash", "photo")
		},
	},
	domain.KindAlbumPhoto: {
		kind:            domain.KindAlbumPhoto,
		negotiateMethod: "photos.getUploadServer",
		negotiateParams: func(req Request, _ Options) domain.Params {
			p := domain.Params{"album_id": req.AlbumID}
			if req.GroupID != 0 {
				p["group_id"] = req.GroupID
			}
			return p
		},
		field:         "photo",
		namePrefix:    "image",
		marker:        "photo",
		receiptSchema: photoReceiptSchema,
		receiptFields: []string{"photo", "server", "hash"},
		saveMethod:    "photos.saveMessagesPhoto",
		saveParams: func(rec receipt, _ Request) domain.Params {
			return copyFields(rec, "photo", "server", "hash")
		},
		attachTag: "photo",
	},
}

func protocolFor(kind domain.MediaKind) (*protocol, bool) {
	p, ok := protocols[kind]
	return p, ok
}

// fileName picks the multipart file name for a payload. Kinds with a prefix
// always synthesize "<prefix>.<ext>"; documents keep their own name and fall
// back to "file.<ext>".
func (p *protocol) fileName(payload domain.MediaPayload, ext string) string {
	if p.namePrefix != "" {
		return p.namePrefix + "." + ext
	}
	if payload.FileName != "" {
		return payload.FileName
	}
	return "file." + ext
}

// needsSniff reports whether the payload's type must be detected before the
// transfer.
func (p *protocol) needsSniff(payload domain.MediaPayload) bool {
	return p.namePrefix != "" || payload.FileName == ""
}

// legacyAlbumID is the album number the platform expects negated in message
// photo upload URLs.
const legacyAlbumID = "3"

// rewriteAlbumID replaces an exact "aid=3" query parameter with
// "aid=-<albumID>". The rest of the URL, including parameter order and
// encoding, is left byte-for-byte unchanged. It reports whether a rewrite
// happened.
func rewriteAlbumID(rawURL string, albumID int64) (string, bool) {
	base, query, ok := strings.Cut(rawURL, "?")
	if !ok {
		return rawURL, false
	}
	query, fragment, hasFragment := strings.Cut(query, "#")

	parts := strings.Split(query, "&")
	changed := false
	for i, part := range parts {
		if part == "aid="+legacyAlbumID {
			parts[i] = "aid=" + strconv.FormatInt(-albumID, 10)
			changed = true
		}
	}
	if !changed {
		return rawURL, false
	}

	out := base + "?" + strings.Join(parts, "&")
	if hasFragment {
		out += "#" + fragment
	}
	return out, true
}

// hasLegacyAlbum reports whether rawURL carries the aid=3 parameter.
func hasLegacyAlbum(rawURL string) bool {
	_, rewritten := rewriteAlbumID(rawURL, 0)
	return rewritten
}
