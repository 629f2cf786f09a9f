package email

import "strings"

// Logical folder names that resolve to provider-specific mailboxes
const (
	RoleSent    = "SENT"
	RoleDrafts  = "DRAFTS"
	RoleSpam    = "SPAM"
	RoleTrash   = "TRASH"
	RoleArchive = "ARCHIVE"
)

var folderAliases = map[string][]string{
	RoleSent:    {"Sent", "[Gmail]/Sent Mail", "Sent Items", "Sent Messages", "Sent Mail", "INBOX.Sent"},
	RoleDrafts:  {"Drafts", "[Gmail]/Drafts", "Draft", "INBOX.Drafts"},
	RoleSpam:    {"Spam", "Junk", "[Gmail]/Spam", "Junk E-mail", "Junk Email", "Bulk Mail", "INBOX.Spam", "INBOX.Junk"},
	RoleTrash:   {"Trash", "[Gmail]/Trash", "Deleted Items", "Deleted Messages", "Bin", "INBOX.Trash"},
	RoleArchive: {"Archive", "[Gmail]/All Mail", "Archives", "INBOX.Archive"},
}

// IsRole reports whether name is a logical folder rather than a mailbox path
func IsRole(name string) bool {
	_, ok := folderAliases[name]
	return ok
}

// Candidates lists the mailbox paths tried for a folder, in order.
// A previously resolved path goes first.
func Candidates(name, known string) []string {
	aliases, ok := folderAliases[name]
	if !ok {
		if known != "" && known != name {
			return []string{known, name}
		}
		return []string{name}
	}
	out := make([]string, 0, len(aliases)+1)
	if known != "" {
		out = append(out, known)
	}
	for _, a := range aliases {
		if a != known {
			out = append(out, a)
		}
	}
	return out
}

// RoleOf maps a folder name or mailbox path to its logical role, or ""
func RoleOf(name string) string {
	if IsRole(name) {
		return name
	}
	for role, aliases := range folderAliases {
		for _, a := range aliases {
			if strings.EqualFold(a, name) {
				return role
			}
		}
	}
	return ""
}
