package mailbox

// Kind tags which variant of ZaxMessageKind a downloaded Message is,
// per spec §3.
type Kind int

const (
	// KindText is a successfully decrypted text message, or — per the
	// plaintext-passthrough rule of spec §4.5.4/§9 — one whose box_open
	// failed and whose raw data is returned unchanged.
	KindText Kind = iota
	// KindFileMetadata is a file-announcement message.
	KindFileMetadata
	// KindPlain is a message whose sender hpk isn't in the keyring.
	KindPlain
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFileMetadata:
		return "file_metadata"
	case KindPlain:
		return "plain"
	default:
		return "unknown"
	}
}

// FileUploadMetadata describes a file announced via StartFileUpload,
// per spec §3. SKey is delivered only inside the encrypted metadata
// message, never to the relay in cleartext.
type FileUploadMetadata struct {
	Name     string         `json:"name"`
	OrigSize int64          `json:"orig_size"`
	Created  string         `json:"created,omitempty"`
	Modified string         `json:"modified,omitempty"`
	MD5      string         `json:"md5,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
	SKey     string         `json:"skey"`
}

// Message is a downloaded, already-decoded ZaxMessageKind union value.
type Message struct {
	Kind Kind

	// Data holds the decrypted (or passed-through) text for
	// KindText, and the sender's opaque hpk-addressed payload for
	// KindPlain.
	Data string

	// File is non-nil only for KindFileMetadata.
	File *FileUploadMetadata

	// SenderTag is the keyring tag of the sender, set for KindText
	// and KindFileMetadata.
	SenderTag string

	// From is the sender's raw hpk, set only for KindPlain (the
	// keyring has no tag for it).
	From string

	// UploadID identifies the file announced by a KindFileMetadata
	// message; later referenced by every file command for that file.
	UploadID string

	// Nonce is this message's relay-facing identifier, the argument
	// Delete expects.
	Nonce string

	// Time is the relay-assigned delivery timestamp (Unix seconds).
	Time int64
}
