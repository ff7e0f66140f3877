package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cin-tie/remote-shell/internal/protocol/wire"
)

var (
	// ErrEmptyMessage is returned when decoding zero bytes.
	ErrEmptyMessage = errors.New("empty message")

	// ErrUnknownTag is returned for a tag outside the catalog.
	ErrUnknownTag = errors.New("unknown message tag")

	// ErrTrailingData is returned when bytes remain after the last field.
	ErrTrailingData = errors.New("trailing bytes after message")
)

// body is implemented by every catalog type.
type body interface {
	Message
	encodeBody(e *encoder)
	decodeBody(d *decoder)
}

// Encode serializes m as its tag followed by its fields.
func Encode(m Message) ([]byte, error) {
	b, ok := m.(body)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownTag, m)
	}

	e := &encoder{}
	e.u8(uint8(m.Tag()))
	b.encodeBody(e)
	if e.err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Tag(), e.err)
	}
	return e.buf.Bytes(), nil
}

// Decode parses one complete encoded message.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	tag := Tag(data[0])
	m, err := newBody(tag)
	if err != nil {
		return nil, err
	}

	d := &decoder{r: bytes.NewReader(data[1:])}
	m.decodeBody(d)
	if d.err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, d.err)
	}
	if d.r.Len() != 0 {
		return nil, fmt.Errorf("decode %s: %w (%d bytes)", tag, ErrTrailingData, d.r.Len())
	}
	return m, nil
}

// newBody is the single dispatch point from tag to variant.
func newBody(tag Tag) (body, error) {
	switch tag {
	case TagConnect:
		return &Connect{}, nil
	case TagDisconnect:
		return &Disconnect{}, nil
	case TagExecute:
		return &Execute{}, nil
	case TagUpload:
		return &Upload{}, nil
	case TagDownload:
		return &Download{}, nil
	case TagChdir:
		return &Chdir{}, nil
	case TagGetdir:
		return &Getdir{}, nil
	case TagFragment:
		return &Fragment{}, nil
	case TagFragmentAck:
		return &FragmentAck{}, nil
	case TagConnect.Result():
		return &ConnectResult{}, nil
	case TagDisconnect.Result():
		return &DisconnectResult{}, nil
	case TagExecute.Result():
		return &ExecuteResult{}, nil
	case TagUpload.Result():
		return &UploadResult{}, nil
	case TagDownload.Result():
		return &DownloadResult{}, nil
	case TagChdir.Result():
		return &ChdirResult{}, nil
	case TagGetdir.Result():
		return &GetdirResult{}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, uint8(tag))
	}
}

// encoder and decoder keep the first error so field sequences read linearly.

type encoder struct {
	buf bytes.Buffer
	err error
}

func (e *encoder) u8(v uint8) {
	if e.err == nil {
		e.err = wire.WriteUint8(&e.buf, v)
	}
}

func (e *encoder) boolean(v bool) {
	if e.err == nil {
		e.err = wire.WriteBool(&e.buf, v)
	}
}

func (e *encoder) u32(v uint32) {
	if e.err == nil {
		e.err = wire.WriteUint32(&e.buf, v)
	}
}

func (e *encoder) i32(v int32) {
	if e.err == nil {
		e.err = wire.WriteInt32(&e.buf, v)
	}
}

func (e *encoder) i64(v int64) {
	if e.err == nil {
		e.err = wire.WriteInt64(&e.buf, v)
	}
}

func (e *encoder) str(v string) {
	if e.err == nil {
		e.err = wire.WriteString(&e.buf, v)
	}
}

func (e *encoder) bytes(v []byte) {
	if e.err == nil {
		e.err = wire.WriteBytes(&e.buf, v)
	}
}

// status writes the result header and reports whether success fields follow.
func (e *encoder) status(s Status) bool {
	e.boolean(s.IsError)
	e.str(s.ErrorMessage)
	return !s.IsError
}

type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) u8() uint8 {
	if d.err != nil {
		return 0
	}
	v, err := wire.ReadUint8(d.r)
	d.err = err
	return v
}

func (d *decoder) boolean() bool {
	if d.err != nil {
		return false
	}
	v, err := wire.ReadBool(d.r)
	d.err = err
	return v
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := wire.ReadUint32(d.r)
	d.err = err
	return v
}

func (d *decoder) i32() int32 {
	if d.err != nil {
		return 0
	}
	v, err := wire.ReadInt32(d.r)
	d.err = err
	return v
}

func (d *decoder) i64() int64 {
	if d.err != nil {
		return 0
	}
	v, err := wire.ReadInt64(d.r)
	d.err = err
	return v
}

func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	v, err := wire.ReadString(d.r)
	d.err = err
	return v
}

func (d *decoder) bytes() []byte {
	if d.err != nil {
		return nil
	}
	v, err := wire.ReadBytes(d.r)
	d.err = err
	return v
}

func (d *decoder) status(s *Status) bool {
	s.IsError = d.boolean()
	s.ErrorMessage = d.str()
	return d.err == nil && !s.IsError
}

// Commands

func (m *Connect) encodeBody(e *encoder) {
	e.str(m.Username)
	e.str(m.FullName)
	e.str(m.Secret)
}

func (m *Connect) decodeBody(d *decoder) {
	m.Username = d.str()
	m.FullName = d.str()
	m.Secret = d.str()
}

func (m *Disconnect) encodeBody(e *encoder) { e.str(m.Reason) }
func (m *Disconnect) decodeBody(d *decoder) { m.Reason = d.str() }

func (m *Execute) encodeBody(e *encoder) {
	e.str(m.Command)
	e.str(m.WorkingDir)
	e.i64(m.TimeoutMs)
}

func (m *Execute) decodeBody(d *decoder) {
	m.Command = d.str()
	m.WorkingDir = d.str()
	m.TimeoutMs = d.i64()
}

func (m *Upload) encodeBody(e *encoder) {
	e.str(m.FileName)
	e.str(m.TargetDir)
	e.bytes(m.Data)
	e.boolean(m.Overwrite)
}

func (m *Upload) decodeBody(d *decoder) {
	m.FileName = d.str()
	m.TargetDir = d.str()
	m.Data = d.bytes()
	m.Overwrite = d.boolean()
}

func (m *Download) encodeBody(e *encoder) {
	e.str(m.Path)
	e.i64(m.Offset)
	e.i64(m.Length)
}

func (m *Download) decodeBody(d *decoder) {
	m.Path = d.str()
	m.Offset = d.i64()
	m.Length = d.i64()
}

func (m *Chdir) encodeBody(e *encoder) { e.str(m.NewDir) }
func (m *Chdir) decodeBody(d *decoder) { m.NewDir = d.str() }

func (m *Getdir) encodeBody(*encoder) {}
func (m *Getdir) decodeBody(*decoder) {}

// Fragment protocol

func (m *Fragment) encodeBody(e *encoder) {
	e.u8(uint8(m.Kind))
	e.u32(m.TotalCount)
	e.u32(m.Index)
	e.str(m.TransferID)
	e.str(m.FileName)
	e.bytes(m.Payload)
}

func (m *Fragment) decodeBody(d *decoder) {
	m.Kind = FragmentKind(d.u8())
	m.TotalCount = d.u32()
	m.Index = d.u32()
	m.TransferID = d.str()
	m.FileName = d.str()
	m.Payload = d.bytes()
}

func (m *FragmentAck) encodeBody(e *encoder) {
	e.str(m.TransferID)
	e.u32(m.Index)
	e.boolean(m.OK)
}

func (m *FragmentAck) decodeBody(d *decoder) {
	m.TransferID = d.str()
	m.Index = d.u32()
	m.OK = d.boolean()
}

// Results

func (m *ConnectResult) encodeBody(e *encoder) {
	if e.status(m.Status) {
		e.str(m.ServerOS)
		e.str(m.CurrentDir)
		e.str(m.ServerVersion)
	}
}

func (m *ConnectResult) decodeBody(d *decoder) {
	if d.status(&m.Status) {
		m.ServerOS = d.str()
		m.CurrentDir = d.str()
		m.ServerVersion = d.str()
	}
}

func (m *DisconnectResult) encodeBody(e *encoder) { e.status(m.Status) }
func (m *DisconnectResult) decodeBody(d *decoder) { d.status(&m.Status) }

func (m *ExecuteResult) encodeBody(e *encoder) {
	if e.status(m.Status) {
		e.str(m.Stdout)
		e.str(m.Stderr)
		e.i32(m.ExitCode)
		e.i64(m.ElapsedMs)
		e.str(m.WorkingDir)
	}
}

func (m *ExecuteResult) decodeBody(d *decoder) {
	if d.status(&m.Status) {
		m.Stdout = d.str()
		m.Stderr = d.str()
		m.ExitCode = d.i32()
		m.ElapsedMs = d.i64()
		m.WorkingDir = d.str()
	}
}

func (m *UploadResult) encodeBody(e *encoder) {
	if e.status(m.Status) {
		e.str(m.AbsolutePath)
		e.i64(m.Size)
		e.boolean(m.PreExisted)
	}
}

func (m *UploadResult) decodeBody(d *decoder) {
	if d.status(&m.Status) {
		m.AbsolutePath = d.str()
		m.Size = d.i64()
		m.PreExisted = d.boolean()
	}
}

func (m *DownloadResult) encodeBody(e *encoder) {
	if e.status(m.Status) {
		e.str(m.FileName)
		e.i64(m.TotalSize)
		e.bytes(m.Data)
		e.boolean(m.Partial)
	}
}

func (m *DownloadResult) decodeBody(d *decoder) {
	if d.status(&m.Status) {
		m.FileName = d.str()
		m.TotalSize = d.i64()
		m.Data = d.bytes()
		m.Partial = d.boolean()
	}
}

func (m *ChdirResult) encodeBody(e *encoder) {
	if e.status(m.Status) {
		e.str(m.OldDir)
		e.str(m.NewDir)
	}
}

func (m *ChdirResult) decodeBody(d *decoder) {
	if d.status(&m.Status) {
		m.OldDir = d.str()
		m.NewDir = d.str()
	}
}

func (m *GetdirResult) encodeBody(e *encoder) {
	if e.status(m.Status) {
		e.str(m.CurrentDir)
	}
}

func (m *GetdirResult) decodeBody(d *decoder) {
	if d.status(&m.Status) {
		m.CurrentDir = d.str()
	}
}
