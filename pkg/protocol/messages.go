package protocol

// Message is any value of the catalog.
type Message interface {
	Tag() Tag
}

// Connect opens a session for Username.
type Connect struct {
	Username string
	FullName string
	Secret   string
}

// Disconnect closes the session. Sent by clients, and by the server as a
// shutdown notice.
type Disconnect struct {
	Reason string
}

// Execute runs Command through the host shell. An empty WorkingDir means the
// session's current directory; TimeoutMs <= 0 means the server default.
type Execute struct {
	Command    string
	WorkingDir string
	TimeoutMs  int64
}

// Upload writes Data to FileName inside TargetDir (session directory when
// empty).
type Upload struct {
	FileName  string
	TargetDir string
	Data      []byte
	Overwrite bool
}

// Download reads [Offset, Offset+Length) of Path. Length <= 0 reads to the end
// of the file.
type Download struct {
	Path   string
	Offset int64
	Length int64
}

// Chdir changes the session's current directory.
type Chdir struct {
	NewDir string
}

// Getdir asks for the session's current directory.
type Getdir struct{}

func (*Connect) Tag() Tag    { return TagConnect }
func (*Disconnect) Tag() Tag { return TagDisconnect }
func (*Execute) Tag() Tag    { return TagExecute }
func (*Upload) Tag() Tag     { return TagUpload }
func (*Download) Tag() Tag   { return TagDownload }
func (*Chdir) Tag() Tag      { return TagChdir }
func (*Getdir) Tag() Tag     { return TagGetdir }
