package audit

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// FileBackup writes each event to its own JSON file.
type FileBackup struct {
	dir string
}

func NewFileBackup(dir string) (*FileBackup, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{dir: dir}, nil
}

// Save writes evt to {analysis}/{timestamp}_{event_id}.json.
func (f *FileBackup) Save(evt *Event) (string, error) {
	dir := filepath.Join(f.dir, url.PathEscape(evt.Run.AnalysisID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create event dir: %w", err)
	}

	name := fmt.Sprintf("%d_%s.json", evt.Timestamp.UnixMilli(), evt.EventID)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}
