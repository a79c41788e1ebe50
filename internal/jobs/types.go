package jobs

const (
	TaskDeliverURL  = "deliver:url"
	TaskSampleClips = "clips:sample"
)

type DeliverURLPayload struct {
	ChatID        int64  `json:"chat_id"`
	UserID        int64  `json:"user_id"`
	URL           string `json:"url"`
	ProgressMsgID int    `json:"progress_msg_id"` // message the worker edits per stage
}

type SampleClipsPayload struct {
	ChatID        int64  `json:"chat_id"`
	UserID        int64  `json:"user_id"`
	FileID        string `json:"file_id"` // Telegram file_id of the uploaded video
	FileName      string `json:"file_name,omitempty"`
	ProgressMsgID int    `json:"progress_msg_id"`
}
