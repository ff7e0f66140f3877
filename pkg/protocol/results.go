package protocol

// Result is the reply to a command. A failed result carries only its error
// message; success fields are left zero.
type Result interface {
	Message
	Failed() bool
	Err() string
}

// Status is the header shared by every result.
type Status struct {
	IsError      bool
	ErrorMessage string
}

// Failed reports whether the command failed.
func (s Status) Failed() bool { return s.IsError }

// Err returns the error message, empty on success.
func (s Status) Err() string { return s.ErrorMessage }

// Failure builds an error status.
func Failure(msg string) Status {
	return Status{IsError: true, ErrorMessage: msg}
}

type ConnectResult struct {
	Status
	ServerOS      string
	CurrentDir    string
	ServerVersion string
}

type DisconnectResult struct {
	Status
}

type ExecuteResult struct {
	Status
	Stdout     string
	Stderr     string
	ExitCode   int32
	ElapsedMs  int64
	WorkingDir string
}

type UploadResult struct {
	Status
	AbsolutePath string
	Size         int64
	PreExisted   bool
}

type DownloadResult struct {
	Status
	FileName  string
	TotalSize int64
	Data      []byte
	Partial   bool
}

// ReturnedBytes is the number of bytes carried by the result.
func (r *DownloadResult) ReturnedBytes() int64 { return int64(len(r.Data)) }

type ChdirResult struct {
	Status
	OldDir string
	NewDir string
}

type GetdirResult struct {
	Status
	CurrentDir string
}

func (*ConnectResult) Tag() Tag    { return TagConnect.Result() }
func (*DisconnectResult) Tag() Tag { return TagDisconnect.Result() }
func (*ExecuteResult) Tag() Tag    { return TagExecute.Result() }
func (*UploadResult) Tag() Tag     { return TagUpload.Result() }
func (*DownloadResult) Tag() Tag   { return TagDownload.Result() }
func (*ChdirResult) Tag() Tag      { return TagChdir.Result() }
func (*GetdirResult) Tag() Tag     { return TagGetdir.Result() }

// ErrorResult returns a failed result shaped for the given command tag.
// Unknown tags yield a failed ExecuteResult.
func ErrorResult(command Tag, msg string) Result {
	st := Failure(msg)
	switch command.Command() {
	case TagConnect:
		return &ConnectResult{Status: st}
	case TagDisconnect:
		return &DisconnectResult{Status: st}
	case TagUpload:
		return &UploadResult{Status: st}
	case TagDownload:
		return &DownloadResult{Status: st}
	case TagChdir:
		return &ChdirResult{Status: st}
	case TagGetdir:
		return &GetdirResult{Status: st}
	default:
		return &ExecuteResult{Status: st}
	}
}
