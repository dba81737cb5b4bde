// Package identity resolves who is calling and what they look like.
package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/matheus3301/courier/internal/config"
	"github.com/matheus3301/courier/internal/convid"
	"google.golang.org/grpc/metadata"
)

const (
	// MetadataKey carries the caller id in gRPC metadata.
	MetadataKey = "x-courier-user"
	// HeaderName carries the caller id on gateway requests.
	HeaderName = "X-Courier-User"
	// QueryParam is the gateway fallback for clients that cannot set headers.
	QueryParam = "user"

	// UnknownName is shown for users missing from the directory.
	UnknownName = "Unknown"
)

// Provider returns the authenticated user for a call, if any.
type Provider interface {
	UserID(ctx context.Context) (string, bool)
}

type ctxKey struct{}

// WithUser returns a context carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// FromContext returns the user stored by WithUser.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	id = strings.TrimSpace(id)
	return id, ok && id != ""
}

// Metadata reads the caller from incoming gRPC metadata, falling back to
// the context value. Ids are returned as sent, minus surrounding space; the
// messaging service normalizes them.
type Metadata struct{}

func (Metadata) UserID(ctx context.Context) (string, bool) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, v := range md.Get(MetadataKey) {
			if id := strings.TrimSpace(v); id != "" {
				return id, true
			}
		}
	}
	return FromContext(ctx)
}

// FromRequest reads the caller from the gateway header or query string.
func FromRequest(r *http.Request) (string, bool) {
	id := r.Header.Get(HeaderName)
	if id == "" {
		id = r.URL.Query().Get(QueryParam)
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

// Outgoing attaches userID to an outgoing gRPC call.
func Outgoing(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKey, userID)
}

// Profile is a user's display information.
type Profile struct {
	ID        string
	Name      string
	AvatarURL string
}

// Directory looks up display profiles. It is read-only after creation.
type Directory struct {
	users map[string]Profile
}

// NewDirectory indexes the configured users by normalized id.
func NewDirectory(users []config.User) *Directory {
	d := &Directory{users: make(map[string]Profile, len(users))}
	for _, u := range users {
		id := convid.Normalize(u.ID)
		if id == "" {
			continue
		}
		d.users[id] = Profile{ID: id, Name: u.Name, AvatarURL: u.AvatarURL}
	}
	return d
}

// Lookup returns the profile of a normalized id as stored in conversations,
// or a placeholder named UnknownName.
func (d *Directory) Lookup(id string) Profile {
	if d != nil {
		if p, ok := d.users[id]; ok {
			if p.Name == "" {
				p.Name = UnknownName
			}
			return p
		}
	}
	return Profile{ID: id, Name: UnknownName}
}

// Len returns the number of directory entries.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.users)
}
