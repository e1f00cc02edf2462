package reply

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/parley/internal/log"
)

// trailingPunct is punctuation that markdown renderers attach to the end of
// a bare link but that is never part of the file name.
const trailingPunct = ").,;]"

// LinkRepairer rewrites upload references in generated text that point at
// files which no longer exist on disk. Engines tend to quote file names
// from conversation history verbatim; when the file has since been
// re-uploaded under a suffixed name, the stale link is rewritten to the
// most recently modified sibling sharing the original stem and extension.
type LinkRepairer struct {
	root     string
	marker   string
	patterns []*regexp.Regexp
}

// NewLinkRepairer creates a repairer for links under urlPrefix whose files
// live under root on disk.
func NewLinkRepairer(root, urlPrefix string) *LinkRepairer {
	base := path.Base(strings.Trim(urlPrefix, "/"))
	if base == "" || base == "." {
		base = "chat_uploads"
	}
	q := regexp.QuoteMeta(base)
	return &LinkRepairer{
		root:   root,
		marker: base + "/",
		patterns: []*regexp.Regexp{
			// Relative backend paths, e.g. "backend/chat_uploads/a.png".
			regexp.MustCompile(`(?:\./)?backend/` + q + `/[^\s)\]]+`),
			// Absolute URL paths, e.g. "/chat_uploads/a.png".
			regexp.MustCompile(`/` + q + `/[^\s)\]]+`),
			// Full URLs, e.g. "http://host:8000/chat_uploads/a.png".
			regexp.MustCompile(`https?://[^\s)\]]+/` + q + `/[^\s)\]]+`),
		},
	}
}

// Repair returns text with stale upload links rewritten. Text without any
// upload reference is returned unchanged; so are links whose target still
// exists and links with no recoverable sibling.
func (r *LinkRepairer) Repair(text string) string {
	if text == "" || !strings.Contains(text, r.marker) {
		return text
	}

	seen := make(map[string]struct{})
	var refs []string
	for _, p := range r.patterns {
		for _, m := range p.FindAllString(text, -1) {
			m = strings.TrimRight(m, trailingPunct)
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			refs = append(refs, m)
		}
	}
	// Deterministic rewrite order.
	sort.Strings(refs)

	out := text
	for _, ref := range refs {
		idx := strings.Index(ref, r.marker)
		if idx < 0 {
			continue
		}
		prefix := ref[:idx+len(r.marker)]
		rel := ref[idx+len(r.marker):]
		if rel == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.root, filepath.FromSlash(rel))); err == nil {
			continue
		}
		repl, ok := r.latestSibling(rel)
		if !ok {
			log.Debug(log.CatRepair, "No replacement for missing upload", "ref", ref)
			continue
		}
		out = strings.ReplaceAll(out, ref, prefix+repl)
	}

	if out != text {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(text, out, false)
		log.Debug(log.CatRepair, "Repaired upload links",
			"refs", len(refs),
			"diff", dmp.DiffPrettyText(diffs))
	}
	return out
}

// latestSibling finds the most recently modified file in rel's directory
// named stem_*ext, where stem and ext come from rel's base name. Returns
// the replacement path relative to the root, slash-separated.
func (r *LinkRepairer) latestSibling(rel string) (string, bool) {
	dir := path.Dir(rel)
	base := path.Base(rel)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		return "", false
	}

	pattern := filepath.Join(r.root, filepath.FromSlash(dir), stem+"_*"+ext)
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", false
	}

	var best string
	var bestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = m
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return "", false
	}

	name := filepath.Base(best)
	if dir == "." {
		return name, true
	}
	return path.Join(dir, name), true
}
