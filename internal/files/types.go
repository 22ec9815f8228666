package files

import "time"

// Status はファイルの処理状態を表します。
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// IsTerminal は状態が終端（これ以上遷移しない）かどうかを返します。
func (s Status) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Record はアップロードされたファイルの現在状態を表します。
type Record struct {
	FileID        string    `json:"file_id"`
	Filename      string    `json:"filename"`
	FilePath      string    `json:"file_path"`
	ContentType   string    `json:"content_type,omitempty"`
	Status        Status    `json:"status"`
	Progress      int       `json:"progress"`
	ParsedContent any       `json:"parsed_content,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
