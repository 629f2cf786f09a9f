package email

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"html"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/microcosm-cc/bluemonday"

	"github.com/brandon/mailsync/pkg/types"
)

// SnippetLength is the maximum snippet size in runes
const SnippetLength = 200

var strictPolicy = bluemonday.StrictPolicy()

// ThreadID groups a message with its conversation: the root is the first
// References entry, then In-Reply-To, then the message's own id.
func ThreadID(messageID, inReplyTo string, references []string) string {
	root := ""
	for _, r := range references {
		if r = trimMsgID(r); r != "" {
			root = r
			break
		}
	}
	if root == "" {
		root = trimMsgID(firstField(inReplyTo))
	}
	if root == "" {
		root = trimMsgID(messageID)
	}
	if root == "" {
		return ""
	}
	sum := sha1.Sum([]byte(root))
	return hex.EncodeToString(sum[:])[:16]
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

func trimMsgID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// ParseReferences extracts message ids from a fetched References header block
func ParseReferences(raw []byte) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(raw)+4)
	buf = append(buf, raw...)
	buf = append(buf, "\r\n\r\n"...)

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		return nil
	}
	mh := mail.Header{Header: message.Header{Header: h}}
	ids, err := mh.MsgIDList("References")
	if err == nil {
		return ids
	}

	// malformed ids: fall back to whitespace splitting
	var out []string
	for _, f := range strings.Fields(h.Get("References")) {
		if id := trimMsgID(f); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Snippet derives a short plain-text preview from the leading bytes of a
// message's text section. Plain text is preferred; HTML is stripped.
func Snippet(root *Part, preview []byte) string {
	if len(preview) == 0 {
		return ""
	}

	var h textproto.Header
	if root != nil && root.Type != "" {
		h.Set("Content-Type", root.contentTypeHeader())
		if root.Encoding != "" {
			h.Set("Content-Transfer-Encoding", root.Encoding)
		}
	} else {
		h.Set("Content-Type", "text/plain")
	}

	// unknown charsets still yield an entity with the raw body
	entity, _ := message.New(message.Header{Header: h}, bytes.NewReader(preview))
	if entity == nil {
		return clean(string(preview))
	}

	plain, markup := textParts(entity, 0)
	if strings.TrimSpace(plain) != "" {
		return clean(plain)
	}
	if markup != "" {
		return clean(html.UnescapeString(strictPolicy.Sanitize(markup)))
	}
	return ""
}

// textParts returns the first text/plain and text/html bodies in the entity
func textParts(e *message.Entity, depth int) (plain, markup string) {
	if depth > 8 {
		return "", ""
	}
	if mr := e.MultipartReader(); mr != nil {
		for {
			p, _ := mr.NextPart()
			if p == nil {
				break
			}
			pl, mk := textParts(p, depth+1)
			if plain == "" {
				plain = pl
			}
			if markup == "" {
				markup = mk
			}
			if plain != "" {
				break
			}
		}
		return plain, markup
	}

	if disp, _, _ := e.Header.ContentDisposition(); disp == "attachment" {
		return "", ""
	}
	mt, _, _ := e.Header.ContentType()
	// a truncated preview still yields what was decoded before the cut
	body, _ := io.ReadAll(e.Body)
	switch mt {
	case "", "text/plain":
		return string(body), ""
	case "text/html":
		return "", string(body)
	}
	return "", ""
}

// clean collapses whitespace and truncates to SnippetLength runes
func clean(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > SnippetLength {
		s = string(r[:SnippetLength])
	}
	return s
}

// FlagsFrom maps IMAP flags, plus the role of the folder the message lives
// in, onto the cached boolean flags
func FlagsFrom(flags []string, role string) types.Flags {
	var f types.Flags
	for _, fl := range flags {
		switch strings.ToLower(fl) {
		case `\seen`:
			f.Read = true
		case `\flagged`:
			f.Starred = true
		case `\draft`:
			f.Draft = true
		case `\deleted`:
			f.Trash = true
		case "$junk", "junk":
			f.Spam = true
		case "$archived", "archived":
			f.Archived = true
		case "$snoozed", "snoozed":
			f.Snoozed = true
		}
	}
	switch role {
	case RoleSpam:
		f.Spam = true
	case RoleTrash:
		f.Trash = true
	case RoleArchive:
		f.Archived = true
	case RoleDrafts:
		f.Draft = true
	}
	return f
}

// Recipients returns the To and Cc addresses of a message
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	for _, a := range m.To {
		if a.Email != "" {
			out = append(out, a.Email)
		}
	}
	for _, a := range m.Cc {
		if a.Email != "" {
			out = append(out, a.Email)
		}
	}
	return out
}
