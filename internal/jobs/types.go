package jobs

import "time"

// Status はジョブの実行状態を表します。
// processing で開始し、completed か failed のどちらかへ一度だけ遷移します。
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal は終了状態かどうかを返します。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID          string     `json:"jobId"`
	Status         Status     `json:"status"`
	SourceFilename string     `json:"sourceFilename"`
	CallbackURL    string     `json:"callbackUrl,omitempty"`
	ResultPath     string     `json:"resultPath,omitempty"`
	Error          *ErrorInfo `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	ExpiresAt      time.Time  `json:"expiresAt,omitempty"`
}

// Row は入力テーブル1データ行分の処理結果を表します。
// 保存後に変更されることはありません。
type Row struct {
	JobID        string    `json:"jobId"`
	SerialNumber int       `json:"serialNumber"`
	ProductName  string    `json:"productName"`
	InputRefs    []string  `json:"inputRefs"`
	OutputRefs   []string  `json:"outputRefs"`
	FailedInputs int       `json:"failedInputs"`
	CreatedAt    time.Time `json:"createdAt"`
}
