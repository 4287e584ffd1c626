package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// HandshakeStatus is the server's verdict on a HandshakeRequest.
type HandshakeStatus uint32

const (
	HandshakeAccepted HandshakeStatus = 0
	HandshakeRejected HandshakeStatus = 1
)

func (s HandshakeStatus) String() string {
	switch s {
	case HandshakeAccepted:
		return "accepted"
	case HandshakeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// HandshakeRequest is the first record a client sends on an authenticated
// connection.
//
//	struct handshake_request {
//	    string mechanism<>;
//	    opaque token<>;
//	};
type HandshakeRequest struct {
	// Mechanism is a hint such as "kerberos". Empty lets the server pick
	// the provider from the token itself.
	Mechanism string
	Token     []byte
}

// HandshakeResponse is the server's single reply record.
//
//	struct handshake_response {
//	    unsigned int status;
//	    opaque       token<>;
//	    string       message<>;
//	};
type HandshakeResponse struct {
	Status  uint32
	Token   []byte
	Message string
}

// ErrHandshakeRejected is returned to clients whose handshake was refused.
var ErrHandshakeRejected = errors.New("transport: handshake rejected")

// EncodeHandshakeRequest returns the XDR encoding of req.
func EncodeHandshakeRequest(req *HandshakeRequest) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, req); err != nil {
		return nil, fmt.Errorf("encode handshake request: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeHandshakeRequest parses an XDR handshake request.
func DecodeHandshakeRequest(data []byte) (*HandshakeRequest, error) {
	var req HandshakeRequest
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &req); err != nil {
		return nil, fmt.Errorf("decode handshake request: %w", err)
	}
	return &req, nil
}

// EncodeHandshakeResponse returns the XDR encoding of resp.
func EncodeHandshakeResponse(resp *HandshakeResponse) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, resp); err != nil {
		return nil, fmt.Errorf("encode handshake response: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeHandshakeResponse parses an XDR handshake response.
func DecodeHandshakeResponse(data []byte) (*HandshakeResponse, error) {
	var resp HandshakeResponse
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &resp); err != nil {
		return nil, fmt.Errorf("decode handshake response: %w", err)
	}
	return &resp, nil
}

// ClientHandshake sends req on rw and waits for the server's answer. A
// rejection is returned as an error wrapping ErrHandshakeRejected together
// with the decoded response.
func ClientHandshake(rw io.ReadWriter, req *HandshakeRequest, maxSize uint32) (*HandshakeResponse, error) {
	data, err := EncodeHandshakeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := WriteRecord(rw, data); err != nil {
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	rec, err := ReadRecord(rw, maxSize)
	if err != nil {
		return nil, fmt.Errorf("read handshake response: %w", err)
	}
	resp, err := DecodeHandshakeResponse(rec)
	if err != nil {
		return nil, err
	}
	if HandshakeStatus(resp.Status) != HandshakeAccepted {
		return resp, fmt.Errorf("%w: %s", ErrHandshakeRejected, resp.Message)
	}
	return resp, nil
}
