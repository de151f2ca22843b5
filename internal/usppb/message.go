package usppb

import "fmt"

// MsgType enumerates the USP message types the dispatcher answers
// (spec §1: "Get, Set, Add, Delete, Operate, Notify, GetSupportedDM,
// GetSupportedProtocol, GetInstances").
type MsgType string

const (
	MsgGetRequest                  MsgType = "GET"
	MsgGetResponse                 MsgType = "GET_RESP"
	MsgSetRequest                  MsgType = "SET"
	MsgSetResponse                 MsgType = "SET_RESP"
	MsgAddRequest                  MsgType = "ADD"
	MsgAddResponse                 MsgType = "ADD_RESP"
	MsgDeleteRequest               MsgType = "DELETE"
	MsgDeleteResponse              MsgType = "DELETE_RESP"
	MsgOperateRequest               MsgType = "OPERATE"
	MsgOperateResponse              MsgType = "OPERATE_RESP"
	MsgNotifyRequest                MsgType = "NOTIFY"
	MsgNotifyResponse               MsgType = "NOTIFY_RESP"
	MsgGetSupportedDMRequest        MsgType = "GET_SUPPORTED_DM"
	MsgGetSupportedDMResponse       MsgType = "GET_SUPPORTED_DM_RESP"
	MsgGetSupportedProtocolRequest  MsgType = "GET_SUPPORTED_PROTO"
	MsgGetSupportedProtocolResponse MsgType = "GET_SUPPORTED_PROTO_RESP"
	MsgGetInstancesRequest          MsgType = "GET_INSTANCES"
	MsgGetInstancesResponse         MsgType = "GET_INSTANCES_RESP"
	MsgError                        MsgType = "ERROR"
)

// Header carries the message id used to correlate request and response.
type Header struct {
	MsgID   string
	MsgType MsgType
}

const (
	fMsgHeader = 1
	fMsgBody   = 2

	fHeaderMsgID   = 1
	fHeaderMsgType = 2
)

// Message is the decoded payload of a Record.
type Message struct {
	Header *Header
	Body   []byte // encoded body; decode with the type-specific Unmarshal function once Header.MsgType is known
}

// Marshal encodes header+body into the Message wire form.
func (m *Message) Marshal() []byte {
	var hb []byte
	hb = appendString(hb, fHeaderMsgID, m.Header.MsgID)
	hb = appendString(hb, fHeaderMsgType, string(m.Header.MsgType))

	var b []byte
	b = appendMessage(b, fMsgHeader, hb)
	b = appendBytesField(b, fMsgBody, m.Body)
	return b
}

// UnmarshalMessage decodes a wire-form Message, leaving Body undecoded
// (the caller decodes it with the type-specific Unmarshal once it knows
// Header.MsgType).
func UnmarshalMessage(data []byte) (*Message, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, err
	}
	m := &Message{Header: &Header{}}
	for _, f := range fields {
		switch f.num {
		case fMsgHeader:
			hfields, err := parseFields(f.bytes)
			if err != nil {
				return nil, fmt.Errorf("usppb: header: %w", err)
			}
			for _, hf := range hfields {
				switch hf.num {
				case fHeaderMsgID:
					m.Header.MsgID = string(hf.bytes)
				case fHeaderMsgType:
					m.Header.MsgType = MsgType(hf.bytes)
				}
			}
		case fMsgBody:
			m.Body = f.bytes
		}
	}
	if m.Header.MsgID == "" {
		return nil, fmt.Errorf("usppb: message missing msg_id")
	}
	return m, nil
}
