// Package rpc implements the call/reply envelope and the processor contract
// for tablerpc.
//
// The envelope is a reduced ONC-RPC message, XDR-encoded and carried by
// record-marked transports:
//
//	struct call {                     struct reply {
//	    unsigned int xid;                 unsigned int xid;
//	    unsigned int msg_type; /* 0 */    unsigned int msg_type; /* 1 */
//	    unsigned int program;             unsigned int stat;
//	    unsigned int version;             string       message<>;
//	    unsigned int procedure;           opaque       results<>;
//	    opaque       args<>;          };
//	};
package rpc

import (
	"bytes"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// MsgType distinguishes calls from replies.
type MsgType uint32

const (
	MsgCall  MsgType = 0
	MsgReply MsgType = 1
)

// ErrUnexpectedMsgType is returned when a call was expected and a reply
// arrived, or the other way round.
var ErrUnexpectedMsgType = errors.New("rpc: unexpected message type")

// CallMessage is one decoded call.
type CallMessage struct {
	XID       uint32
	Program   uint32
	Version   uint32
	Procedure uint32
	Args      []byte
}

// ReplyMessage is one decoded reply.
type ReplyMessage struct {
	XID     uint32
	Stat    ReplyStat
	Message string
	Results []byte
}

type callWire struct {
	XID       uint32
	MsgType   uint32
	Program   uint32
	Version   uint32
	Procedure uint32
	Args      []byte
}

type replyWire struct {
	XID     uint32
	MsgType uint32
	Stat    uint32
	Message string
	Results []byte
}

// EncodeCall returns the XDR encoding of call.
func EncodeCall(call *CallMessage) ([]byte, error) {
	var buf bytes.Buffer
	w := callWire{
		XID:       call.XID,
		MsgType:   uint32(MsgCall),
		Program:   call.Program,
		Version:   call.Version,
		Procedure: call.Procedure,
		Args:      call.Args,
	}
	if _, err := xdr.Marshal(&buf, &w); err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCall parses a call record.
func DecodeCall(data []byte) (*CallMessage, error) {
	var w callWire
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &w); err != nil {
		return nil, fmt.Errorf("decode call: %w", err)
	}
	if MsgType(w.MsgType) != MsgCall {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedMsgType, w.MsgType)
	}
	return &CallMessage{
		XID:       w.XID,
		Program:   w.Program,
		Version:   w.Version,
		Procedure: w.Procedure,
		Args:      w.Args,
	}, nil
}

// EncodeReply returns the XDR encoding of reply.
func EncodeReply(reply *ReplyMessage) ([]byte, error) {
	var buf bytes.Buffer
	w := replyWire{
		XID:     reply.XID,
		MsgType: uint32(MsgReply),
		Stat:    uint32(reply.Stat),
		Message: reply.Message,
		Results: reply.Results,
	}
	if _, err := xdr.Marshal(&buf, &w); err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeReply parses a reply record.
func DecodeReply(data []byte) (*ReplyMessage, error) {
	var w replyWire
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &w); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if MsgType(w.MsgType) != MsgReply {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedMsgType, w.MsgType)
	}
	return &ReplyMessage{
		XID:     w.XID,
		Stat:    ReplyStat(w.Stat),
		Message: w.Message,
		Results: w.Results,
	}, nil
}

// SuccessReply builds a Success reply carrying results.
func SuccessReply(xid uint32, results []byte) *ReplyMessage {
	return &ReplyMessage{XID: xid, Stat: Success, Results: results}
}

// ErrorReply builds the reply for a failed call. The stat comes from
// StatFromError and the message from err.
func ErrorReply(xid uint32, err error) *ReplyMessage {
	return &ReplyMessage{XID: xid, Stat: StatFromError(err), Message: err.Error()}
}

// Marshal XDR-encodes v for use as call arguments or results.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes XDR data into v, which must be a pointer.
func Unmarshal(data []byte, v any) error {
	_, err := xdr.Unmarshal(bytes.NewReader(data), v)
	return err
}
