package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/brandon/mailsync/pkg/types"
)

// Column weights for bm25, in emails_fts column order:
// subject, sender_email, sender_name, snippet, body_text.
const rankExpr = "bm25(emails_fts, 10.0, 4.0, 4.0, 2.0, 1.0)"

// FacetWindow is how far back the date histogram reaches
const FacetWindow = 30 * 24 * time.Hour

// SearchOptions contains search parameters. Zero values mean "no filter".
type SearchOptions struct {
	UserID         string
	Query          string
	AccountID      int64
	FolderID       int64
	Folder         string
	From           string
	To             string
	Subject        string
	HasAttachments *bool
	Read           *bool
	Starred        *bool
	DateFrom       *time.Time
	DateTo         *time.Time
	Limit          int
	Offset         int
}

type searchRow struct {
	ID             int64   `db:"id"`
	AccountID      int64   `db:"account_id"`
	AccountName    string  `db:"account_name"`
	FolderName     string  `db:"folder_name"`
	FolderPath     string  `db:"folder_path"`
	Subject        string  `db:"subject"`
	SenderName     string  `db:"sender_name"`
	SenderEmail    string  `db:"sender_email"`
	Date           int64   `db:"date"`
	Snippet        string  `db:"snippet"`
	ThreadID       string  `db:"thread_id"`
	HasAttachments bool    `db:"has_attachments"`
	IsRead         bool    `db:"is_read"`
	IsStarred      bool    `db:"is_starred"`
	Relevance      float64 `db:"relevance"`
}

// Search performs a search on cached emails. With a free-text query results
// are ranked by relevance, otherwise they are ordered by date descending.
func (s *Store) Search(ctx context.Context, opts SearchOptions) (*types.SearchResult, error) {
	from, where, args := buildSearchFilter(opts)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rank := "0.0"
	order := "e.date DESC, e.id DESC"
	if match := ftsQuery(opts.Query); match != "" {
		rank = rankExpr
		order = "relevance ASC, e.date DESC"
	}

	query := fmt.Sprintf(`
		SELECT e.id, e.account_id, a.name AS account_name, f.name AS folder_name, f.path AS folder_path,
			e.subject, e.sender_name, e.sender_email, e.date, e.snippet, e.thread_id,
			e.has_attachments, e.is_read, e.is_starred, %s AS relevance
		%s
		%s
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, rank, from, where, order)

	var rows []searchRow
	if err := s.cache.DB().SelectContext(ctx, &rows, query, append(append([]interface{}{}, args...), limit, offset)...); err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	result := &types.SearchResult{Results: make([]types.EmailSummary, 0, len(rows))}
	for _, r := range rows {
		result.Results = append(result.Results, types.EmailSummary{
			ID:             r.ID,
			AccountID:      r.AccountID,
			AccountName:    r.AccountName,
			FolderName:     r.FolderName,
			FolderPath:     r.FolderPath,
			Subject:        r.Subject,
			SenderName:     r.SenderName,
			SenderEmail:    r.SenderEmail,
			Date:           fromUnix(r.Date),
			Snippet:        r.Snippet,
			ThreadID:       r.ThreadID,
			HasAttachments: r.HasAttachments,
			Read:           r.IsRead,
			Starred:        r.IsStarred,
			Score:          -r.Relevance,
		})
	}

	if err := s.cache.DB().GetContext(ctx, &result.Total, "SELECT COUNT(*) "+from+" "+where, args...); err != nil {
		return nil, fmt.Errorf("failed to count search results: %w", err)
	}

	facets, err := s.facets(ctx, from, where, args)
	if err != nil {
		return nil, err
	}
	result.Facets = *facets

	return result, nil
}

// facets computes count breakdowns over the whole matching population
func (s *Store) facets(ctx context.Context, from, where string, args []interface{}) (*types.Facets, error) {
	facets := &types.Facets{}

	folderQuery := "SELECT f.name AS value, COUNT(*) AS count " + from + " " + where +
		" GROUP BY f.name ORDER BY count DESC, value"
	if err := s.cache.DB().SelectContext(ctx, &facets.Folders, folderQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to compute folder facets: %w", err)
	}

	accountQuery := "SELECT a.name AS value, COUNT(*) AS count " + from + " " + where +
		" GROUP BY a.name ORDER BY count DESC, value"
	if err := s.cache.DB().SelectContext(ctx, &facets.Accounts, accountQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to compute account facets: %w", err)
	}

	dateWhere := "WHERE e.date >= ?"
	if where != "" {
		dateWhere = where + " AND e.date >= ?"
	}
	dateArgs := append(append([]interface{}{}, args...), s.now().Add(-FacetWindow).Unix())
	dateQuery := "SELECT strftime('%Y-%m-%d', e.date, 'unixepoch') AS value, COUNT(*) AS count " +
		from + " " + dateWhere + " GROUP BY value ORDER BY value DESC"
	if err := s.cache.DB().SelectContext(ctx, &facets.Dates, dateQuery, dateArgs...); err != nil {
		return nil, fmt.Errorf("failed to compute date facets: %w", err)
	}

	if facets.Folders == nil {
		facets.Folders = []types.FacetCount{}
	}
	if facets.Accounts == nil {
		facets.Accounts = []types.FacetCount{}
	}
	if facets.Dates == nil {
		facets.Dates = []types.FacetCount{}
	}
	return facets, nil
}

func buildSearchFilter(opts SearchOptions) (string, string, []interface{}) {
	var conditions []string
	var args []interface{}

	from := `FROM emails e
		JOIN accounts a ON e.account_id = a.id
		JOIN folders f ON e.folder_id = f.id`

	if match := ftsQuery(opts.Query); match != "" {
		from += "\n\t\tJOIN emails_fts ON emails_fts.rowid = e.id"
		conditions = append(conditions, "emails_fts MATCH ?")
		args = append(args, match)
	}

	if opts.UserID != "" {
		conditions = append(conditions, "a.user_id = ?")
		args = append(args, opts.UserID)
	}

	if opts.AccountID > 0 {
		conditions = append(conditions, "e.account_id = ?")
		args = append(args, opts.AccountID)
	}

	if opts.FolderID > 0 {
		conditions = append(conditions, "e.folder_id = ?")
		args = append(args, opts.FolderID)
	}

	if opts.Folder != "" {
		conditions = append(conditions, "(f.name = ? OR f.path = ?)")
		args = append(args, opts.Folder, opts.Folder)
	}

	if opts.From != "" {
		conditions = append(conditions, "(e.sender_email LIKE ? ESCAPE '\\' OR e.sender_name LIKE ? ESCAPE '\\')")
		term := "%" + escapeLike(opts.From) + "%"
		args = append(args, term, term)
	}

	if opts.To != "" {
		conditions = append(conditions, "e.recipients LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(opts.To)+"%")
	}

	if opts.Subject != "" {
		conditions = append(conditions, "e.subject LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(opts.Subject)+"%")
	}

	if opts.HasAttachments != nil {
		conditions = append(conditions, "e.has_attachments = ?")
		args = append(args, *opts.HasAttachments)
	}

	if opts.Read != nil {
		conditions = append(conditions, "e.is_read = ?")
		args = append(args, *opts.Read)
	}

	if opts.Starred != nil {
		conditions = append(conditions, "e.is_starred = ?")
		args = append(args, *opts.Starred)
	}

	if opts.DateFrom != nil {
		conditions = append(conditions, "e.date >= ?")
		args = append(args, opts.DateFrom.Unix())
	}

	if opts.DateTo != nil {
		conditions = append(conditions, "e.date <= ?")
		args = append(args, opts.DateTo.Unix())
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return from, where, args
}

// ftsQuery turns free text into an FTS5 expression of quoted terms, so user
// input never reaches the FTS5 query grammar.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.IndexFunc(f, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Suggestions returns distinct sender addresses, subjects and recipients
// starting with prefix. Prefixes shorter than two characters yield nothing.
func (s *Store) Suggestions(ctx context.Context, userID, prefix string, limit int) ([]types.Suggestion, error) {
	prefix = strings.TrimSpace(prefix)
	if len([]rune(prefix)) < 2 {
		return []types.Suggestion{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	pattern := escapeLike(prefix) + "%"

	userCond := ""
	userArgs := []interface{}{}
	if userID != "" {
		userCond = " AND a.user_id = ?"
		userArgs = append(userArgs, userID)
	}

	sources := []struct {
		kind  string
		query string
	}{
		{"from", `SELECT DISTINCT e.sender_email FROM emails e JOIN accounts a ON a.id = e.account_id
			WHERE e.sender_email LIKE ? ESCAPE '\'` + userCond + ` ORDER BY e.sender_email LIMIT ?`},
		{"subject", `SELECT DISTINCT e.subject FROM emails e JOIN accounts a ON a.id = e.account_id
			WHERE e.subject LIKE ? ESCAPE '\'` + userCond + ` ORDER BY e.subject LIMIT ?`},
		{"recipient", `SELECT DISTINCT r.value FROM emails e JOIN accounts a ON a.id = e.account_id, json_each(e.recipients) r
			WHERE r.value LIKE ? ESCAPE '\'` + userCond + ` ORDER BY r.value LIMIT ?`},
	}

	suggestions := []types.Suggestion{}
	for _, src := range sources {
		args := append([]interface{}{pattern}, userArgs...)
		args = append(args, limit)
		var values []string
		if err := s.cache.DB().SelectContext(ctx, &values, src.query, args...); err != nil {
			return nil, fmt.Errorf("failed to load %s suggestions: %w", src.kind, err)
		}
		for _, v := range values {
			suggestions = append(suggestions, types.Suggestion{Type: src.kind, Value: v})
		}
	}
	return suggestions, nil
}

// LogSearch records a free-text query for popularity ranking
func (s *Store) LogSearch(ctx context.Context, userID, query string, resultCount int) error {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	_, err := s.cache.DB().ExecContext(ctx,
		"INSERT INTO search_log (user_id, query, result_count, created_at) VALUES (?, ?, ?, ?)",
		userID, query, resultCount, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to log search: %w", err)
	}
	return nil
}

// PopularSearches ranks the user's logged queries of the last 30 days by frequency
func (s *Store) PopularSearches(ctx context.Context, userID string, limit int) ([]types.PopularSearch, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []types.PopularSearch
	err := s.cache.DB().SelectContext(ctx, &out, `
		SELECT query, COUNT(*) AS count FROM search_log
		WHERE user_id = ? AND created_at >= ?
		GROUP BY query
		ORDER BY count DESC, MAX(created_at) DESC
		LIMIT ?`, userID, s.now().Add(-FacetWindow).Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load popular searches: %w", err)
	}
	if out == nil {
		out = []types.PopularSearch{}
	}
	return out, nil
}
