package email

import "strings"

// Part is one node of a message's MIME tree as reported by the server
type Part struct {
	Type        string
	Subtype     string
	Params      map[string]string
	Encoding    string
	Disposition string
	Filename    string
	Size        uint32
	Parts       []*Part
}

// MediaType returns the lowercased type/subtype pair
func (p *Part) MediaType() string {
	return p.Type + "/" + p.Subtype
}

// IsMultipart reports whether the part is a container
func (p *Part) IsMultipart() bool {
	return p.Type == "multipart"
}

// HasAttachments walks the tree looking for a part that is an attachment:
// either explicitly disposed as one, or a named leaf that is not inline.
func HasAttachments(p *Part) bool {
	if p == nil {
		return false
	}
	if p.IsMultipart() {
		for _, child := range p.Parts {
			if HasAttachments(child) {
				return true
			}
		}
		return false
	}
	if p.Disposition == "attachment" {
		return true
	}
	return p.Filename != "" && p.Disposition != "inline"
}

// contentTypeHeader renders the part's Content-Type header value
func (p *Part) contentTypeHeader() string {
	var b strings.Builder
	b.WriteString(p.MediaType())
	for k, v := range p.Params {
		b.WriteString("; ")
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(strings.ReplaceAll(v, `"`, `\"`))
		b.WriteString(`"`)
	}
	return b.String()
}
