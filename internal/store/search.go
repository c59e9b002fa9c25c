package store

import (
	"strings"
	"unicode/utf8"
)

const snippetRadius = 32

// SearchMessages finds cached messages whose content contains query,
// case-insensitively, newest first. conversationID narrows the search when
// set.
func (db *DB) SearchMessages(query, conversationID string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT conversation_id, msg_id, temp_id, sender_id, content, message_type, status, timestamp
		FROM messages
		WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if conversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Message: m, Snippet: snippet(m.Content, query)})
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first occurrence of query in content with << >> and
// trims the text around it.
func snippet(content, query string) string {
	i := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if i < 0 || len(strings.ToLower(content)) != len(content) {
		return content
	}
	end := i + len(query)
	start := max(0, i-snippetRadius)
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	stop := min(len(content), end+snippetRadius)
	for stop < len(content) && !utf8.RuneStart(content[stop]) {
		stop++
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(content[start:i])
	b.WriteString("<<")
	b.WriteString(content[i:end])
	b.WriteString(">>")
	b.WriteString(content[end:stop])
	if stop < len(content) {
		b.WriteString("...")
	}
	return b.String()
}
