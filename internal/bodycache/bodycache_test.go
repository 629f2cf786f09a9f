package bodycache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/internal/email/emailtest"
	"github.com/brandon/mailsync/internal/testutil"
	"github.com/brandon/mailsync/pkg/types"
)

const reportPDF = "JVBERi0xLjQK"

func rawMessage(id, subject string) []byte {
	msg := strings.Join([]string{
		"From: Alice <alice@example.com>",
		"To: bob@example.com",
		"Subject: " + subject,
		"Message-ID: <" + id + "@example.com>",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="B"`,
		"",
		"--B",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"See attached.",
		"--B",
		`Content-Type: application/pdf; name="report.pdf"`,
		`Content-Disposition: attachment; filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		reportPDF,
		"--B--",
		"",
	}, "\r\n")
	return []byte(msg)
}

type fixture struct {
	server *emailtest.Server
	store  *cache.Store
	creds  *emailtest.Creds
	cache  *Cache
	acct   *types.Account
	folder *types.Folder
	dir    string
}

func newFixture(t *testing.T, oauth bool) *fixture {
	t.Helper()
	f := &fixture{
		server: emailtest.NewServer(),
		store:  testutil.NewStore(t),
		creds:  &emailtest.Creds{Token: "live"},
		dir:    t.TempDir(),
	}
	f.server.AddMailbox("INBOX", 1)
	if oauth {
		f.acct = testutil.SeedOAuthAccount(t, f.store, "me", "live", testutil.Now.Add(time.Hour))
	} else {
		f.acct = testutil.SeedAccount(t, f.store, "work")
	}

	ctx := context.Background()
	folder, err := f.store.BeginFolderSync(ctx, f.acct.ID, "INBOX")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateFolderStatus(ctx, folder.ID, "INBOX", 0, 0, 1, 1))
	require.NoError(t, f.store.EndFolderSync(ctx, folder.ID))
	f.folder = folder

	logger, _ := testutil.Logger()
	f.cache = New(f.store, f.server, f.creds, Config{AttachmentDir: f.dir}, logger, nil)
	f.cache.SetClock(func() time.Time { return testutil.Now })
	return f
}

// add appends a message on the server and its header to the cache
func (f *fixture) add(t *testing.T, id string, raw []byte) int64 {
	t.Helper()
	ctx := context.Background()
	uid := f.server.Append("INBOX", email.Message{Subject: id}, raw)
	require.NoError(t, f.store.UpsertHeader(ctx, &types.Email{
		AccountID: f.acct.ID,
		FolderID:  f.folder.ID,
		UID:       uid,
		Subject:   id,
		Date:      testutil.Now.Add(-time.Duration(uid) * time.Hour),
	}))
	res, err := f.store.Search(ctx, cache.SearchOptions{Subject: id})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	return res.Results[0].ID
}

func TestFetchBodyMissThenHit(t *testing.T) {
	f := newFixture(t, false)
	id := f.add(t, "one", rawMessage("one", "Report"))
	ctx := context.Background()

	first, err := f.cache.FetchBody(ctx, id)
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.Equal(t, "See attached.", strings.TrimSpace(first.Text))
	require.Len(t, first.Attachments, 1)
	require.EqualValues(t, 1, f.server.Dials.Load())

	second, err := f.cache.FetchBody(ctx, id)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, first.Text, second.Text)
	require.Equal(t, first.HTML, second.HTML)
	require.Len(t, second.Attachments, 1)
	require.EqualValues(t, 1, f.server.Dials.Load())

	stored, err := f.store.GetEmail(ctx, id)
	require.NoError(t, err)
	require.Contains(t, stored.BodyText, "See attached.")
	require.Equal(t, testutil.Now.Add(DefaultBodyTTL).Unix(), stored.BodyExpiresAt.Unix())
}

func TestExpiredBodyIsFetchedAgain(t *testing.T) {
	f := newFixture(t, false)
	id := f.add(t, "one", rawMessage("one", "Report"))
	ctx := context.Background()

	_, err := f.cache.FetchBody(ctx, id)
	require.NoError(t, err)

	f.cache.SetClock(func() time.Time { return testutil.Now.Add(DefaultBodyTTL + time.Minute) })
	body, err := f.cache.FetchBody(ctx, id)
	require.NoError(t, err)
	require.False(t, body.FromCache)
	require.EqualValues(t, 2, f.server.Dials.Load())
}

func TestCorruptBodyIsAMiss(t *testing.T) {
	f := newFixture(t, false)
	id := f.add(t, "one", rawMessage("one", "Report"))
	ctx := context.Background()
	require.NoError(t, f.store.SaveBody(ctx, id, "", []byte("not gzip"), testutil.Now.Add(time.Hour)))

	body, err := f.cache.FetchBody(ctx, id)
	require.NoError(t, err)
	require.False(t, body.FromCache)
	require.EqualValues(t, 1, f.server.Dials.Load())

	_, err = decompress([]byte("not gzip"))
	require.ErrorIs(t, err, ErrCacheCorrupt)
}

func TestSameAttachmentStoredOnce(t *testing.T) {
	f := newFixture(t, false)
	a := f.add(t, "one", rawMessage("one", "Report"))
	b := f.add(t, "two", rawMessage("two", "Report again"))
	ctx := context.Background()

	ba, err := f.cache.FetchBody(ctx, a)
	require.NoError(t, err)
	bb, err := f.cache.FetchBody(ctx, b)
	require.NoError(t, err)

	require.Len(t, ba.Attachments, 1)
	require.Len(t, bb.Attachments, 1)
	require.Equal(t, ba.Attachments[0].Checksum, bb.Attachments[0].Checksum)
	require.Equal(t, ba.Attachments[0].StoragePath, bb.Attachments[0].StoragePath)

	var files []string
	require.NoError(t, filepath.Walk(f.dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	require.Len(t, files, 1)
	require.True(t, strings.HasSuffix(files[0], ba.Attachments[0].Checksum+"_report.pdf"))

	rowsA, err := f.store.ListAttachments(ctx, a)
	require.NoError(t, err)
	rowsB, err := f.store.ListAttachments(ctx, b)
	require.NoError(t, err)
	require.Len(t, rowsA, 1)
	require.Len(t, rowsB, 1)
}

func TestRejectedTokenRefreshedOnceForBody(t *testing.T) {
	f := newFixture(t, true)
	f.server.RejectToken("live")
	f.creds.Refreshed = "fresh"
	id := f.add(t, "one", rawMessage("one", "Report"))

	body, err := f.cache.FetchBody(context.Background(), id)
	require.NoError(t, err)
	require.NotEmpty(t, body.Text)
	require.Equal(t, 1, f.creds.Refreshes())
	require.EqualValues(t, 2, f.server.Dials.Load())
	require.EqualValues(t, 1, f.server.RawFetches.Load())
}

func TestPrefetchWarmsRecentBodies(t *testing.T) {
	f := newFixture(t, false)
	for _, id := range []string{"one", "two", "three"} {
		f.add(t, id, rawMessage(id, id))
	}
	f.cache.cfg.PrefetchDelay = time.Millisecond
	ctx := context.Background()

	n, err := f.cache.Prefetch(ctx, f.acct.ID)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = f.cache.Prefetch(ctx, f.acct.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPrefetchStopsOnCancel(t *testing.T) {
	f := newFixture(t, false)
	for _, id := range []string{"one", "two"} {
		f.add(t, id, rawMessage(id, id))
	}
	f.cache.cfg.PrefetchDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	n, err := f.cache.Prefetch(ctx, f.acct.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, n)
}

func TestSafeFilename(t *testing.T) {
	require.Equal(t, "passwd", safeFilename("../../etc/passwd"))
	require.Equal(t, "evil.exe", safeFilename(`C:\temp\evil.exe`))
	require.Equal(t, "attachment", safeFilename(""))
	require.Equal(t, "attachment", safeFilename(".."))
}
