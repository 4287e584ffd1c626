package identity

import "context"

type slotsKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Slots) context.Context {
	return context.WithValue(ctx, slotsKey{}, s)
}

// FromContext returns the slot set carried by ctx, or nil.
func FromContext(ctx context.Context) *Slots {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(slotsKey{}).(*Slots)
	return s
}

// Username returns the authenticated username of the exchange in ctx.
func Username(ctx context.Context) (string, bool) {
	return FromContext(ctx).Username()
}

// PeerAddress returns the peer IP address of the exchange in ctx.
func PeerAddress(ctx context.Context) (string, bool) {
	return FromContext(ctx).PeerAddress()
}

// IsAuthenticated reports whether the exchange in ctx carries a username.
func IsAuthenticated(ctx context.Context) bool {
	_, ok := Username(ctx)
	return ok
}
