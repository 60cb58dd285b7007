package domain

// MediaKind — тип вложения сообщения. Классифицируется один раз
// на границе источника, потребители не переопределяют.
type MediaKind string

const (
	MediaNone      MediaKind = ""
	MediaPhoto     MediaKind = "photo"
	MediaVoice     MediaKind = "voice"
	MediaVideoNote MediaKind = "video_note"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaOther     MediaKind = "other"
)
