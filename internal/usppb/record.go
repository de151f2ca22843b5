package usppb

import "fmt"

// PayloadSecurity mirrors the Record.payload_security enum.
type PayloadSecurity int32

const (
	PayloadPlainText PayloadSecurity = 0
	PayloadTLS12     PayloadSecurity = 1
)

// Record is the outermost USP Record envelope (spec §6: "USP Record and
// USP Message are Protocol Buffers messages"). It carries routing and
// security metadata around an opaque Message payload.
type Record struct {
	Version         string
	ToID            string
	FromID          string
	PayloadSecurity PayloadSecurity
	MACSignature    []byte
	SenderCert      []byte
	Payload         []byte // encoded Message
}

const (
	fRecordVersion         = 1
	fRecordToID            = 2
	fRecordFromID          = 3
	fRecordPayloadSecurity = 4
	fRecordMACSignature    = 5
	fRecordSenderCert      = 6
	fRecordPayload         = 7
)

// Marshal encodes the Record to its wire form.
func (r *Record) Marshal() []byte {
	var b []byte
	b = appendString(b, fRecordVersion, r.Version)
	b = appendString(b, fRecordToID, r.ToID)
	b = appendString(b, fRecordFromID, r.FromID)
	b = appendVarint(b, fRecordPayloadSecurity, uint64(r.PayloadSecurity))
	b = appendBytesField(b, fRecordMACSignature, r.MACSignature)
	b = appendBytesField(b, fRecordSenderCert, r.SenderCert)
	b = appendBytesField(b, fRecordPayload, r.Payload)
	return b
}

// MaxUSPMsgLen bounds accepted message length per spec §6 (64 KiB).
const MaxUSPMsgLen = 64 * 1024

// UnmarshalRecord decodes a wire-form Record, rejecting anything over
// MaxUSPMsgLen before attempting to parse it.
func UnmarshalRecord(data []byte) (*Record, error) {
	if len(data) > MaxUSPMsgLen {
		return nil, fmt.Errorf("usppb: record exceeds max length %d", MaxUSPMsgLen)
	}
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	r := &Record{}
	for _, f := range fields {
		switch f.num {
		case fRecordVersion:
			r.Version = string(f.bytes)
		case fRecordToID:
			r.ToID = string(f.bytes)
		case fRecordFromID:
			r.FromID = string(f.bytes)
		case fRecordPayloadSecurity:
			r.PayloadSecurity = PayloadSecurity(f.vint)
		case fRecordMACSignature:
			r.MACSignature = f.bytes
		case fRecordSenderCert:
			r.SenderCert = f.bytes
		case fRecordPayload:
			r.Payload = f.bytes
		}
	}
	return r, nil
}
