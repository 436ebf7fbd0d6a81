package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"
)

const (
	// version 1 stored the IP length in a single byte.
	formatVersionV1      = 1
	formatVersionCurrent = 2

	maxUserIDLen = 255
	// MaxMetadataLen is the largest user agent or IP a record can hold.
	MaxMetadataLen = math.MaxUint16
)

var (
	errUnknownVersion = errors.New("session: unknown record version")
	errTrailingBytes  = errors.New("session: trailing bytes")
)

// Encode serialises a session. The session id is not part of the record; it is
// the key suffix. Metadata is stored verbatim; values longer than
// [MaxMetadataLen] bytes are rejected with [ErrInvalidMetadata].
func Encode(s *Session) ([]byte, error) {
	if s.UserID == "" || len(s.UserID) > maxUserIDLen {
		return nil, ErrInvalidUserID
	}
	ua, ip := s.UserAgent, s.IP
	if len(ua) > MaxMetadataLen || len(ip) > MaxMetadataLen {
		return nil, ErrInvalidMetadata
	}

	var buf bytes.Buffer
	buf.Grow(1 + 1 + len(s.UserID) + 8 + 2 + len(ua) + 2 + len(ip))

	buf.WriteByte(formatVersionCurrent)

	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	var created [8]byte
	binary.BigEndian.PutUint64(created[:], uint64(s.CreatedAt.UnixMilli()))
	buf.Write(created[:])

	var uaLen [2]byte
	binary.BigEndian.PutUint16(uaLen[:], uint16(len(ua)))
	buf.Write(uaLen[:])
	buf.WriteString(ua)

	var ipLen [2]byte
	binary.BigEndian.PutUint16(ipLen[:], uint16(len(ip)))
	buf.Write(ipLen[:])
	buf.WriteString(ip)

	return buf.Bytes(), nil
}

// Decode parses a record produced by [Encode].
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != formatVersionV1 && version != formatVersionCurrent {
		return nil, errUnknownVersion
	}

	s := &Session{}

	userLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if userLen == 0 {
		return nil, ErrInvalidUserID
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	s.UserID = string(userID)

	var createdMillis int64
	if err := binary.Read(reader, binary.BigEndian, &createdMillis); err != nil {
		return nil, err
	}
	s.CreatedAt = time.UnixMilli(createdMillis).UTC()

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	s.UserAgent = string(ua)

	var ipLen uint16
	if version == formatVersionV1 {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		ipLen = uint16(b)
	} else if err := binary.Read(reader, binary.BigEndian, &ipLen); err != nil {
		return nil, err
	}
	ip := make([]byte, ipLen)
	if _, err := io.ReadFull(reader, ip); err != nil {
		return nil, err
	}
	s.IP = string(ip)

	if reader.Len() != 0 {
		return nil, errTrailingBytes
	}
	return s, nil
}
