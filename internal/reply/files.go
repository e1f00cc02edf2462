package reply

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/zjrosen/parley/internal/engine"
	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/store"
)

// DownloadLinksPlaceholder is replaced in reply text with the markdown list
// of generated file links; engines are told about it in the prompt.
const DownloadLinksPlaceholder = "__DOWNLOAD_LINKS__"

var slugUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// slugify makes a display name safe for a directory component.
func slugify(s string) string {
	s = slugUnsafe.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, "_")
}

// UploadDirName is the per-owner directory component under the upload root:
// user_<id> or user_<id>_<slug>. The worker surfaces it to the engine; the
// commit path persists generated files into it.
func UploadDirName(ownerID int64, displayName string) string {
	name := fmt.Sprintf("user_%d", ownerID)
	if slug := slugify(displayName); slug != "" {
		name += "_" + slug
	}
	return name
}

// userUploadDir returns (creating if needed) the owner's directory under the
// upload root.
func userUploadDir(root string, ownerID int64, displayName string) (string, error) {
	dir := filepath.Join(root, UploadDirName(ownerID, displayName))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	return dir, nil
}

// uniqueFileName appends a short random suffix before the extension so a
// regenerated file never clobbers an earlier upload. The resulting
// stem_suffix.ext shape is exactly what the link repairer globs for.
func uniqueFileName(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "file"
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem = "file"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return stem + "_" + suffix + ext
}

// persistGeneratedFiles writes the engine's output files into the owner's
// upload directory and records a message_files row per file. Returns the
// slash-separated paths (relative to the upload root) of the files that were
// persisted. A single bad file is logged and skipped; it never sinks the
// reply text.
func persistGeneratedFiles(st Store, root string, messageID, ownerID int64, ownerName string, files []engine.GeneratedFile) []string {
	if len(files) == 0 {
		return nil
	}

	dir, err := userUploadDir(root, ownerID, ownerName)
	if err != nil {
		log.ErrorErr(log.CatFiles, "Cannot create upload dir", err,
			"messageID", messageID, "ownerID", ownerID)
		return nil
	}

	var rels []string
	for _, f := range files {
		payload, err := filePayload(root, f)
		if err != nil {
			log.ErrorErr(log.CatFiles, "Skipping generated file", err,
				"messageID", messageID, "fileName", f.FileName)
			continue
		}

		name := uniqueFileName(f.FileName)
		dst := filepath.Join(dir, name)
		if err := os.WriteFile(dst, payload, 0o644); err != nil { //nolint:gosec // G306: uploads are served back over HTTP
			log.ErrorErr(log.CatFiles, "Cannot write generated file", err,
				"messageID", messageID, "fileName", name)
			continue
		}

		rel, err := filepath.Rel(root, dst)
		if err != nil {
			rel = path.Join(filepath.Base(dir), name)
		}
		rel = filepath.ToSlash(rel)

		if _, err := st.InsertMessageFile(store.MessageFile{
			MessageID: messageID,
			FileName:  name,
			FilePath:  rel,
			MimeType:  f.MimeType,
			SizeBytes: int64(len(payload)),
		}); err != nil {
			log.ErrorErr(log.CatFiles, "Cannot record generated file", err,
				"messageID", messageID, "fileName", name)
			continue
		}

		log.Debug(log.CatFiles, "Persisted generated file",
			"messageID", messageID, "path", rel, "bytes", len(payload))
		rels = append(rels, rel)
	}
	return rels
}

// filePayload resolves the file's content. Exactly one of SourcePath,
// Content, or Text carries the payload; SourcePath wins, relative paths
// resolve under the upload root.
func filePayload(root string, f engine.GeneratedFile) ([]byte, error) {
	if f.SourcePath != "" {
		src := f.SourcePath
		if !filepath.IsAbs(src) {
			src = filepath.Join(root, filepath.FromSlash(src))
		}
		data, err := os.ReadFile(src) //nolint:gosec // G304: path comes from the engine result
		if err != nil {
			return nil, fmt.Errorf("reading source file: %w", err)
		}
		return data, nil
	}
	if len(f.Content) > 0 {
		return f.Content, nil
	}
	if f.Text != "" {
		return []byte(f.Text), nil
	}
	return nil, fmt.Errorf("generated file %q has no payload", f.FileName)
}

// downloadLinksBlock renders the markdown link list for persisted files and
// splices it into text: at the placeholder when present, appended otherwise.
// With no files, the placeholder line is stripped.
func downloadLinksBlock(text, urlPrefix string, rels []string) string {
	if len(rels) == 0 {
		text = strings.ReplaceAll(text, "\n"+DownloadLinksPlaceholder, "")
		return strings.ReplaceAll(text, DownloadLinksPlaceholder, "")
	}

	prefix := "/" + strings.Trim(urlPrefix, "/")
	lines := make([]string, 0, len(rels))
	for _, rel := range rels {
		lines = append(lines, "- "+prefix+"/"+rel)
	}
	block := strings.Join(lines, "\n")

	if strings.Contains(text, DownloadLinksPlaceholder) {
		return strings.ReplaceAll(text, DownloadLinksPlaceholder, block)
	}
	return text + "\n\nDownload links:\n" + block
}
