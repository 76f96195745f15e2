package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	tokenRecordVersionV1 = 1
)

var ErrTokenRecordCorrupt = errors.New("token record corrupt")

// TokenRecord is the wire form of a stored token. Times are Unix
// nanoseconds; UsedAt is zero while the token is unused.
type TokenRecord struct {
	AccountID  string
	Purpose    string
	SecretHash [32]byte
	ExpiresAt  int64
	UsedAt     int64
	CreatedAt  int64
}

// EncodeTokenRecord produces the versioned binary encoding:
//
//	version(1) expires(8) used(8) created(8) len(2) account len(1) purpose hash(32)
func EncodeTokenRecord(record *TokenRecord) ([]byte, error) {
	if len(record.AccountID) > 65535 {
		return nil, errors.New("token record account id too long")
	}
	if len(record.Purpose) > 255 {
		return nil, errors.New("token record purpose too long")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 24 + 2 + len(record.AccountID) + 1 + len(record.Purpose) + 32)

	buf.WriteByte(tokenRecordVersionV1)
	for _, v := range []int64{record.ExpiresAt, record.UsedAt, record.CreatedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	buf.WriteByte(byte(len(record.Purpose)))
	buf.WriteString(record.Purpose)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func DecodeTokenRecord(data []byte) (*TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrTokenRecordCorrupt
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	record := &TokenRecord{}
	for _, dst := range []*int64{&record.ExpiresAt, &record.UsedAt, &record.CreatedAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, ErrTokenRecordCorrupt
		}
	}

	var accountLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accountLen); err != nil {
		return nil, ErrTokenRecordCorrupt
	}
	accountID := make([]byte, accountLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, ErrTokenRecordCorrupt
	}
	record.AccountID = string(accountID)

	purposeLen, err := reader.ReadByte()
	if err != nil {
		return nil, ErrTokenRecordCorrupt
	}
	purpose := make([]byte, purposeLen)
	if _, err := io.ReadFull(reader, purpose); err != nil {
		return nil, ErrTokenRecordCorrupt
	}
	record.Purpose = string(purpose)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, ErrTokenRecordCorrupt
	}
	if reader.Len() != 0 {
		return nil, ErrTokenRecordCorrupt
	}

	return record, nil
}
