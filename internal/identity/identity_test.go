package identity

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/matheus3301/courier/internal/config"
	"github.com/matheus3301/courier/internal/convid"
	"google.golang.org/grpc/metadata"
)

func TestMetadataProvider(t *testing.T) {
	var p Provider = Metadata{}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataKey, "alice"))
	if id, ok := p.UserID(ctx); !ok || id != "alice" {
		t.Errorf("UserID() = %q, %v, want alice", id, ok)
	}

	if _, ok := p.UserID(context.Background()); ok {
		t.Error("UserID() without metadata should be unauthenticated")
	}

	blank := metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataKey, "  "))
	if _, ok := p.UserID(blank); ok {
		t.Error("blank id should be unauthenticated")
	}

	if id, ok := p.UserID(WithUser(context.Background(), "bob")); !ok || id != "bob" {
		t.Errorf("context fallback = %q, %v, want bob", id, ok)
	}
}

// Ids reach the service verbatim so that a.b and a_b stay different users.
func TestMetadataKeepsRawID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataKey, " a.b "))
	if id, _ := (Metadata{}).UserID(ctx); id != "a.b" {
		t.Errorf("UserID() = %q, want a.b", id)
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?user=carol", nil)
	if id, ok := FromRequest(r); !ok || id != "carol" {
		t.Errorf("query: %q, %v", id, ok)
	}

	r.Header.Set(HeaderName, "dave")
	if id, _ := FromRequest(r); id != "dave" {
		t.Errorf("header should win over query, got %q", id)
	}

	if _, ok := FromRequest(httptest.NewRequest("GET", "/ws", nil)); ok {
		t.Error("request without identity should be unauthenticated")
	}
}

func TestOutgoingRoundTrip(t *testing.T) {
	out := Outgoing(context.Background(), "erin")
	md, _ := metadata.FromOutgoingContext(out)
	in := metadata.NewIncomingContext(context.Background(), md)
	if id, ok := (Metadata{}).UserID(in); !ok || id != "erin" {
		t.Errorf("round trip = %q, %v", id, ok)
	}
}

func TestDirectory(t *testing.T) {
	d := NewDirectory([]config.User{
		{ID: "u1", Name: "Ada", AvatarURL: "https://example.com/ada.png"},
		{ID: "u2"},
		{ID: ""},
	})
	if d.Len() != 2 {
		t.Errorf("Len() = %d, want 2", d.Len())
	}
	if p := d.Lookup("u1"); p.Name != "Ada" || p.AvatarURL == "" {
		t.Errorf("Lookup(u1) = %+v", p)
	}
	if p := d.Lookup("u2"); p.Name != UnknownName {
		t.Errorf("nameless user = %q, want %q", p.Name, UnknownName)
	}
	if p := d.Lookup("ghost"); p.Name != UnknownName || p.ID != "ghost" {
		t.Errorf("Lookup(ghost) = %+v", p)
	}

	dotted := NewDirectory([]config.User{{ID: "a.b", Name: "Dot"}, {ID: "a_b", Name: "Under"}})
	if p := dotted.Lookup(convid.Normalize("a.b")); p.Name != "Dot" {
		t.Errorf("Lookup(a.b) = %+v", p)
	}
	if p := dotted.Lookup("a_b"); p.Name != "Under" {
		t.Errorf("Lookup(a_b) = %+v", p)
	}

	var nilDir *Directory
	if p := nilDir.Lookup("x"); p.Name != UnknownName {
		t.Errorf("nil directory Lookup = %+v", p)
	}
}
