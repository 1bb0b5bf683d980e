package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	goPortal "github.com/MrEthical07/goPortal"
)

const (
	sessionFormatVersionCurrent = 2
	sessionFormatVersionV2      = 2
	sessionFormatVersionV1      = 1

	// CurrentSchemaVersion is the version written by Encode.
	CurrentSchemaVersion uint8 = sessionFormatVersionCurrent
)

const (
	flagAuthenticated uint16 = 1 << iota
	flagVerified
	flagActive
	flagPasswordExpired
	flagMustLogin
	flagMustLogout
	flagRepeatLogin
	flagProceedToPayment
)

var errFieldTooLong = errors.New("session field too long")

// Encode serializes r in the current schema version. The session id is the
// Redis key and is not part of the blob.
//
// v1 layout: version(1) flags(2) username auth_token method phone payment_url
// (each uint16 length + bytes) created_at(8) expires_at(8).
// v2 appends org (uint16 length + bytes).
func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("session record is nil")
	}
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	if err := binary.Write(&buf, binary.BigEndian, encodeFlags(r.State)); err != nil {
		return nil, err
	}

	for _, field := range []string{
		r.State.Username,
		r.State.AuthToken,
		string(r.State.Method),
		r.State.PhoneNumber,
		r.State.PaymentURL,
	} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}

	if err := writeString(&buf, r.Org); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob written by any supported schema version.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionV1 && version != sessionFormatVersionV2 {
		return nil, errors.New("unsupported session schema version")
	}

	var flags uint16
	if err := binary.Read(reader, binary.BigEndian, &flags); err != nil {
		return nil, err
	}

	r := &Record{SchemaVersion: version}
	decodeFlags(flags, &r.State)

	fields := make([]string, 5)
	for i := range fields {
		s, err := readString(reader)
		if err != nil {
			return nil, err
		}
		fields[i] = s
	}
	r.State.Username = fields[0]
	r.State.AuthToken = fields[1]
	r.State.Method = goPortal.ParseVerificationMethod(fields[2])
	r.State.PhoneNumber = fields[3]
	r.State.PaymentURL = fields[4]

	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}

	if version >= sessionFormatVersionV2 {
		org, err := readString(reader)
		if err != nil {
			return nil, err
		}
		r.Org = org
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session blob")
	}

	return r, nil
}

func encodeFlags(s goPortal.SessionState) uint16 {
	var flags uint16
	set := func(cond bool, bit uint16) {
		if cond {
			flags |= bit
		}
	}
	set(s.IsAuthenticated, flagAuthenticated)
	set(s.IsVerified, flagVerified)
	set(s.IsActive, flagActive)
	set(s.PasswordExpired, flagPasswordExpired)
	set(s.MustLogin, flagMustLogin)
	set(s.MustLogout, flagMustLogout)
	set(s.RepeatLogin, flagRepeatLogin)
	set(s.ProceedToPayment, flagProceedToPayment)
	return flags
}

func decodeFlags(flags uint16, s *goPortal.SessionState) {
	s.IsAuthenticated = flags&flagAuthenticated != 0
	s.IsVerified = flags&flagVerified != 0
	s.IsActive = flags&flagActive != 0
	s.PasswordExpired = flags&flagPasswordExpired != 0
	s.MustLogin = flags&flagMustLogin != 0
	s.MustLogout = flags&flagMustLogout != 0
	s.RepeatLogin = flags&flagRepeatLogin != 0
	s.ProceedToPayment = flags&flagProceedToPayment != 0
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > reader.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
