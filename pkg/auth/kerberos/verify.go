package kerberos

import (
	"errors"
	"fmt"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/marmos91/tablerpc/pkg/auth"
)

// tokenKind is the framing a client used for its AP-REQ.
type tokenKind int

const (
	tokenRawAPReq tokenKind = iota
	tokenKRB5
	tokenSPNEGO
)

func (k tokenKind) String() string {
	switch k {
	case tokenKRB5:
		return "krb5"
	case tokenSPNEGO:
		return "spnego"
	default:
		return "ap-req"
	}
}

const (
	gssInitialTokenTag = 0x60 // [APPLICATION 0] GSS InitialContextToken
	apReqTag           = 0x6E // [APPLICATION 14] KRB_AP_REQ

	// RFC 4178 section 4.2.2
	negStateAcceptCompleted = 0
)

var errNotKerberos = errors.New("not a kerberos token")

// classifyToken inspects the outer framing without verifying anything.
func classifyToken(token []byte) (tokenKind, error) {
	if len(token) < 2 {
		return 0, errNotKerberos
	}
	switch token[0] {
	case apReqTag:
		return tokenRawAPReq, nil
	case gssInitialTokenTag:
		var oid asn1.ObjectIdentifier
		if _, err := asn1.UnmarshalWithParams(token, &oid, "application,explicit,tag:0"); err != nil {
			return 0, fmt.Errorf("%w: %v", errNotKerberos, err)
		}
		switch {
		case oid.Equal(gssapi.OIDKRB5.OID()):
			return tokenKRB5, nil
		case oid.Equal(gssapi.OIDSPNEGO.OID()):
			return tokenSPNEGO, nil
		}
		return 0, fmt.Errorf("%w: mechanism %s", errNotKerberos, oid)
	}
	return 0, errNotKerberos
}

// extractAPReq unwraps token down to the AP-REQ.
func extractAPReq(token []byte) (messages.APReq, tokenKind, error) {
	var apReq messages.APReq

	kind, err := classifyToken(token)
	if err != nil {
		return apReq, 0, fmt.Errorf("%w: %v", auth.ErrInvalidCredentials, err)
	}

	switch kind {
	case tokenRawAPReq:
		if err := apReq.Unmarshal(token); err != nil {
			return apReq, kind, fmt.Errorf("%w: unmarshal AP-REQ: %v", auth.ErrInvalidCredentials, err)
		}
		return apReq, kind, nil

	case tokenKRB5:
		apReq, err := unwrapKRB5(token)
		return apReq, kind, err

	default:
		var st spnego.SPNEGOToken
		if err := st.Unmarshal(token); err != nil {
			return apReq, kind, fmt.Errorf("%w: unmarshal SPNEGO token: %v", auth.ErrInvalidCredentials, err)
		}
		if !st.Init {
			return apReq, kind, fmt.Errorf("%w: expected SPNEGO NegTokenInit", auth.ErrInvalidCredentials)
		}
		if len(st.NegTokenInit.MechTokenBytes) == 0 {
			return apReq, kind, fmt.Errorf("%w: SPNEGO token carries no mechanism token", auth.ErrInvalidCredentials)
		}
		apReq, err := unwrapKRB5(st.NegTokenInit.MechTokenBytes)
		return apReq, kind, err
	}
}

func unwrapKRB5(token []byte) (messages.APReq, error) {
	var kt spnego.KRB5Token
	if err := kt.Unmarshal(token); err != nil {
		return messages.APReq{}, fmt.Errorf("%w: unmarshal KRB5 token: %v", auth.ErrInvalidCredentials, err)
	}
	if !kt.IsAPReq() {
		return messages.APReq{}, fmt.Errorf("%w: KRB5 token is not an AP-REQ", auth.ErrInvalidCredentials)
	}
	return kt.APReq, nil
}

type verified struct {
	name          string
	realm         string
	kind          tokenKind
	endTime       time.Time
	responseToken []byte
}

// verify checks the AP-REQ in token against the current keytab.
func (p *Provider) verify(token []byte) (*verified, error) {
	apReq, kind, err := extractAPReq(token)
	if err != nil {
		return nil, err
	}

	settings := service.NewSettings(
		p.Keytab(),
		service.MaxClockSkew(p.maxClockSkew),
		service.DecodePAC(false),
		service.KeytabPrincipal(p.servicePrincipal),
	)

	ok, creds, err := service.VerifyAPREQ(&apReq, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: verify AP-REQ: %v", auth.ErrAuthFailed, err)
	}
	if !ok || creds == nil {
		return nil, fmt.Errorf("%w: AP-REQ rejected", auth.ErrAuthFailed)
	}

	v := &verified{
		name:    creds.CName().PrincipalNameString(),
		realm:   creds.Domain(),
		kind:    kind,
		endTime: apReq.Ticket.DecryptedEncPart.EndTime,
	}

	if kind == tokenSPNEGO {
		resp := spnego.NegTokenResp{
			NegState:      asn1.Enumerated(negStateAcceptCompleted),
			SupportedMech: gssapi.OIDKRB5.OID(),
		}
		if v.responseToken, err = resp.Marshal(); err != nil {
			return nil, fmt.Errorf("build SPNEGO response: %w", err)
		}
	}
	return v, nil
}
