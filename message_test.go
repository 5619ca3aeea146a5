package courier

import (
	"strings"
	"testing"
	"time"

	"github.com/courierproto/client-go/internal/crypto"
)

func testEndpoints(t *testing.T, n int) []Endpoint {
	t.Helper()
	engine := testEngine(t, crypto.SuiteNaCl)
	out := make([]Endpoint, n)
	for i := range out {
		id, err := GenerateOwnEndpoint(engine, "https://relay.example/inbox/"+string(rune('a'+i)))
		if err != nil {
			t.Fatal(err)
		}
		out[i] = id.Public()
	}
	return out
}

func TestMessage_Validate(t *testing.T) {
	eps := testEndpoints(t, 3)
	author, bob, carol := eps[0], eps[1], eps[2]
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	noInbox := bob
	noInbox.InboxURL = ""
	relative := bob
	relative.InboxURL = "/inbox/b"
	noKeys := Endpoint{InboxURL: "https://relay.example/inbox/x"}

	tests := []struct {
		name    string
		msg     Message
		wantErr string
	}{
		{"valid", Message{Author: author, Recipients: []Endpoint{bob}, CcRecipients: []Endpoint{carol}}, ""},
		{"cc only", Message{Author: author, CcRecipients: []Endpoint{carol}}, ""},
		{"no author", Message{Recipients: []Endpoint{bob}}, "author is required"},
		{"no recipients", Message{Author: author}, "at least one recipient"},
		{"duplicate across to and cc", Message{Author: author, Recipients: []Endpoint{bob}, CcRecipients: []Endpoint{bob}}, "duplicate recipient"},
		{"missing inbox", Message{Author: author, Recipients: []Endpoint{noInbox}}, "has no inbox"},
		{"relative inbox", Message{Author: author, Recipients: []Endpoint{relative}}, "invalid inbox url"},
		{"missing keys", Message{Author: author, Recipients: []Endpoint{noKeys}}, "missing key material"},
		{"expires before created", Message{Author: author, Recipients: []Endpoint{bob}, CreatedAt: now, ExpiresAt: now.Add(-time.Minute)}, "expiresAt must be after createdAt"},
		{"forever", Message{Author: author, Recipients: []Endpoint{bob}, CreatedAt: now, ExpiresAt: Forever}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if !strings.Contains(verr.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want it to mention %q", verr, tt.wantErr)
			}
		})
	}
}

func TestMessage_AllRecipients(t *testing.T) {
	eps := testEndpoints(t, 3)
	m := &Message{Recipients: []Endpoint{eps[0], eps[1]}, CcRecipients: []Endpoint{eps[1], eps[2]}}

	all := m.AllRecipients()
	if len(all) != 3 {
		t.Fatalf("len(AllRecipients()) = %d, want 3", len(all))
	}
	for i, want := range eps {
		if !all[i].Equal(want) {
			t.Errorf("AllRecipients()[%d] = %s, want %s", i, all[i], want)
		}
	}
}

func TestMessage_Equal(t *testing.T) {
	eps := testEndpoints(t, 2)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := &Message{Author: eps[0], Subject: "hi", Body: "there", CreatedAt: created}

	b := *a
	b.Recipients = []Endpoint{eps[1]}
	b.CreatedAt = created.In(time.FixedZone("x", 3600))
	if !a.Equal(&b) {
		t.Error("Equal() = false for messages differing only in recipients and zone")
	}

	c := *a
	c.Body = "elsewhere"
	if a.Equal(&c) {
		t.Error("Equal() = true for different bodies")
	}

	var nilMsg *Message
	if a.Equal(nil) || !nilMsg.Equal(nil) {
		t.Error("nil handling is wrong")
	}
}

func TestMarshalMessage_UTC(t *testing.T) {
	local := time.Date(2024, 5, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	data, err := marshalMessage(&Message{CreatedAt: local})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"createdAt":"2024-05-01T12:00:00Z"`) {
		t.Errorf("marshalMessage() = %s, want UTC createdAt", data)
	}
}

func TestPayloadReference(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ref := &PayloadReference{Location: "https://relay.example/blob/1", ContentType: MessageContentType}
	if ref.Expired(now) {
		t.Error("reference without expiry reports expired")
	}
	ref.ExpiresAt = now.Add(-time.Second)
	if !ref.Expired(now) {
		t.Error("past reference does not report expired")
	}
	ref.ExpiresAt = now.Add(time.Second)
	if ref.Expired(now) {
		t.Error("future reference reports expired")
	}

	u, err := ref.LocationURL()
	if err != nil || u.Host != "relay.example" {
		t.Errorf("LocationURL() = %v, %v", u, err)
	}
	if _, err := (&PayloadReference{Location: "/blob/1"}).LocationURL(); err == nil {
		t.Error("LocationURL() accepted a relative location")
	}
	if _, err := (&PayloadReference{Location: "http://[::1"}).LocationURL(); err == nil {
		t.Error("LocationURL() accepted an unparseable location")
	}
	if !strings.Contains(ref.String(), "relay.example/blob/1") {
		t.Errorf("String() = %s", ref.String())
	}
}
