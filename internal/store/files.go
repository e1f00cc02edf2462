package store

import (
	"fmt"
)

// InsertMessageFile records a generated file persisted under the upload
// root. Rows are immutable once written.
func (s *Store) InsertMessageFile(f MessageFile) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO message_files (message_id, file_name, file_path, mime_type, size_bytes)
		 VALUES (?, ?, ?, ?, ?)`,
		f.MessageID, f.FileName, f.FilePath, f.MimeType, f.SizeBytes,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting message file: %w", err)
	}
	return res.LastInsertId()
}

// MessageFiles returns the files attached to a message, oldest first.
func (s *Store) MessageFiles(messageID int64) ([]MessageFile, error) {
	rows, err := s.db.Query(
		`SELECT id, message_id, file_name, file_path, mime_type, size_bytes
		 FROM message_files WHERE message_id = ? ORDER BY id ASC`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reading message files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []MessageFile
	for rows.Next() {
		var f MessageFile
		var mime *string
		if err := rows.Scan(&f.ID, &f.MessageID, &f.FileName, &f.FilePath, &mime, &f.SizeBytes); err != nil {
			return nil, fmt.Errorf("scanning message file row: %w", err)
		}
		if mime != nil {
			f.MimeType = *mime
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message file rows: %w", err)
	}
	return files, nil
}
