// Package notes parses the Markdown note corpus: front matter, Logseq
// backlinks and hashtags, markup-stripped prose, and paragraph/sentence
// chunking. Grounded on the chunking/extraction behavior of the original
// Python backend's markdown_parser.py, expressed in the teacher's style of
// a small stateless parser type with package-level compiled regexps.
package notes

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	backlinkPattern    = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	tagPattern         = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_]+)`)
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n?`)

	codeFencePattern  = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`[^`]+`")
	imagePattern      = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
	linkPattern       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	headingPattern    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	boldPattern       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicPattern     = regexp.MustCompile(`\*([^*]+)\*`)
	blockquotePattern = regexp.MustCompile(`(?m)^>\s+`)
	bulletListPattern = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	orderedListPattern = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	blankRunPattern   = regexp.MustCompile(`\n{3,}`)

	logseqPropertyPattern = regexp.MustCompile(`(?m)^\s*-\s*(\w+)::\s*(.+)$`)
)

// Parser extracts structure from a single note file's contents.
type Parser struct{}

// NewParser returns a Parser. Stateless; kept as a type for interface symmetry
// with the rest of the pipeline (indexer holds a *Parser alongside its other
// collaborators).
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads path, splits off any YAML front matter, and returns the
// remaining content plus a metadata map seeded with front matter, filesystem
// timestamps, and a title (front matter wins, filename is the fallback).
func (p *Parser) ParseFile(path string) (content string, metadata map[string]any, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}

	text := string(raw)
	metadata = map[string]any{}

	if m := frontmatterPattern.FindStringSubmatch(text); m != nil {
		var fm map[string]any
		if yaml.Unmarshal([]byte(m[1]), &fm) == nil {
			for k, v := range fm {
				metadata[k] = v
			}
		}
		text = text[len(m[0]):]
	}

	metadata["created_at"] = modTime(info).Format(time.RFC3339)
	metadata["modified_at"] = info.ModTime().Format(time.RFC3339)

	if _, ok := metadata["title"]; !ok {
		base := filepath.Base(path)
		metadata["title"] = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if props := ParseProperties(text); len(props) > 0 {
		metadata["properties"] = props
	}

	return text, metadata, nil
}

// ExtractBacklinks returns the de-duplicated set of [[page]] references.
func ExtractBacklinks(content string) []string {
	return dedupMatches(backlinkPattern.FindAllStringSubmatch(content, -1))
}

// ExtractTags returns the de-duplicated set of #tag references.
func ExtractTags(content string) []string {
	return dedupMatches(tagPattern.FindAllStringSubmatch(content, -1))
}

func dedupMatches(matches [][]string) []string {
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		v := m[1]
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ParseProperties extracts Logseq `key:: value` property lines.
func ParseProperties(content string) map[string]string {
	props := map[string]string{}
	for _, m := range logseqPropertyPattern.FindAllStringSubmatch(content, -1) {
		props[m[1]] = strings.TrimSpace(m[2])
	}
	return props
}

// CleanContent strips Markdown syntax down to plain prose, preserving the
// visible text of links and wiki-links.
func CleanContent(content string) string {
	content = codeFencePattern.ReplaceAllString(content, "")
	content = inlineCodePattern.ReplaceAllString(content, "")
	content = imagePattern.ReplaceAllString(content, "")
	content = linkPattern.ReplaceAllString(content, "$1")
	content = backlinkPattern.ReplaceAllString(content, "$1")
	content = headingPattern.ReplaceAllString(content, "")
	content = boldPattern.ReplaceAllString(content, "$1")
	content = italicPattern.ReplaceAllString(content, "$1")
	content = blockquotePattern.ReplaceAllString(content, "")
	content = bulletListPattern.ReplaceAllString(content, "")
	content = orderedListPattern.ReplaceAllString(content, "")
	content = blankRunPattern.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

func modTime(info os.FileInfo) time.Time {
	// os.FileInfo exposes only mtime portably; ctime is not available without
	// platform-specific syscalls, so created_at tracks mtime like modified_at.
	return info.ModTime()
}
