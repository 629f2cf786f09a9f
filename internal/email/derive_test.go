package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreadID(t *testing.T) {
	root := ThreadID("<root@x>", "", nil)
	require.Len(t, root, 16)

	require.Equal(t, root, ThreadID("<c@x>", "<b@x>", []string{"root@x", "b@x"}))
	require.Equal(t, root, ThreadID("<b@x>", "<root@x>", nil))
	require.NotEqual(t, root, ThreadID("<other@x>", "", nil))
	require.Empty(t, ThreadID("", "", nil))
}

func TestParseReferences(t *testing.T) {
	raw := []byte("References: <a@x>\r\n <b@x> <c@x>\r\n\r\n")
	require.Equal(t, []string{"a@x", "b@x", "c@x"}, ParseReferences(raw))
	require.Nil(t, ParseReferences(nil))
	require.Nil(t, ParseReferences([]byte("\r\n")))
}

func TestSnippetPlainText(t *testing.T) {
	root := &Part{Type: "text", Subtype: "plain", Params: map[string]string{"charset": "utf-8"}}
	s := Snippet(root, []byte("Hello   there,\r\n\r\n  see you\tsoon."))
	require.Equal(t, "Hello there, see you soon.", s)
}

func TestSnippetPrefersPlainOverHTML(t *testing.T) {
	root := &Part{Type: "multipart", Subtype: "alternative", Params: map[string]string{"boundary": "BB"}}
	body := "--BB\r\nContent-Type: text/html\r\n\r\n<p>html version</p>\r\n" +
		"--BB\r\nContent-Type: text/plain\r\n\r\nplain version\r\n--BB--\r\n"
	require.Equal(t, "plain version", Snippet(root, []byte(body)))
}

func TestSnippetStripsHTML(t *testing.T) {
	root := &Part{Type: "text", Subtype: "html"}
	s := Snippet(root, []byte(`<html><style>p{color:red}</style><body><p>Hi <b>Bob</b> &amp; team</p></body></html>`))
	require.Equal(t, "Hi Bob & team", s)
}

func TestSnippetDecodesTransferEncoding(t *testing.T) {
	root := &Part{Type: "text", Subtype: "plain", Encoding: "quoted-printable"}
	require.Equal(t, "café au lait", Snippet(root, []byte("caf=C3=A9 au lait")))
}

func TestSnippetTruncatedMultipartAndLength(t *testing.T) {
	root := &Part{Type: "multipart", Subtype: "mixed", Params: map[string]string{"boundary": "XX"}}
	long := strings.Repeat("word ", 100)
	body := "--XX\r\nContent-Type: text/plain\r\n\r\n" + long
	s := Snippet(root, []byte(body))
	require.Equal(t, SnippetLength, len([]rune(s)))
	require.True(t, strings.HasPrefix(s, "word word"))
}

func TestHasAttachments(t *testing.T) {
	require.False(t, HasAttachments(nil))
	require.False(t, HasAttachments(&Part{Type: "text", Subtype: "plain"}))
	require.True(t, HasAttachments(&Part{Type: "multipart", Subtype: "mixed", Parts: []*Part{
		{Type: "text", Subtype: "plain"},
		{Type: "image", Subtype: "png", Filename: "a.png"},
	}}))
	require.False(t, HasAttachments(&Part{Type: "multipart", Subtype: "related", Parts: []*Part{
		{Type: "text", Subtype: "html"},
		{Type: "image", Subtype: "png", Filename: "logo.png", Disposition: "inline"},
	}}))
}

func TestFlagsFrom(t *testing.T) {
	f := FlagsFrom([]string{`\Seen`, `\Draft`, "$Junk"}, "")
	require.True(t, f.Read)
	require.True(t, f.Draft)
	require.True(t, f.Spam)
	require.False(t, f.Starred)

	require.True(t, FlagsFrom(nil, RoleTrash).Trash)
	require.True(t, FlagsFrom(nil, RoleArchive).Archived)
}

func TestCandidatesAndRoles(t *testing.T) {
	require.Equal(t, []string{"INBOX"}, Candidates("INBOX", ""))
	c := Candidates(RoleSent, "Sent Items")
	require.Equal(t, "Sent Items", c[0])
	require.Equal(t, 1, strings.Count(strings.Join(c, "|"), "Sent Items"))

	require.Equal(t, RoleSpam, RoleOf("junk"))
	require.Equal(t, RoleSent, RoleOf(RoleSent))
	require.Empty(t, RoleOf("Projects"))
}

func TestSyncWindow(t *testing.T) {
	uids := make([]uint32, 0, 120)
	for i := uint32(120); i >= 1; i-- {
		uids = append(uids, i)
	}
	w := syncWindow(uids, 0, 50)
	require.Len(t, w, 50)
	require.EqualValues(t, 71, w[0])
	require.EqualValues(t, 120, w[49])

	require.Empty(t, syncWindow([]uint32{120}, 120, 50))
	require.Equal(t, []uint32{121, 122}, syncWindow([]uint32{122, 121}, 120, 1))
}
