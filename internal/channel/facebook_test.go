package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"unibox/internal/config"
	"unibox/internal/domain"
)

func fbAdapter() *Facebook {
	return NewFacebook(config.FacebookConfig{
		AppID: "app", AppSecret: "secret", PageAccessToken: "page-token", VerifyToken: "verify",
	}, http.DefaultClient, testLogger())
}

func TestFacebookValidateSignature(t *testing.T) {
	a := fbAdapter()
	body := []byte(`{"object":"page"}`)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !a.ValidateSignature(body, sig) {
		t.Error("valid signature rejected")
	}
	if a.ValidateSignature(body, "sha256=deadbeef") {
		t.Error("invalid signature accepted")
	}
	if a.ValidateSignature(body, "") {
		t.Error("empty signature accepted")
	}
}

func TestFacebookNormalizeInbound(t *testing.T) {
	a := fbAdapter()
	raw := []byte(`{
		"object": "page",
		"entry": [{
			"id": "page-1",
			"messaging": [{
				"sender": {"id": "user-9"},
				"recipient": {"id": "page-1"},
				"timestamp": 1700000000000,
				"message": {"mid": "mid.abc", "text": "hello page"}
			}]
		}]
	}`)

	msg, err := a.NormalizeInbound(raw)
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.ExternalID != "mid.abc" || msg.From != "user-9" || msg.Content != "hello page" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Metadata["pageId"] != "page-1" {
		t.Errorf("metadata = %v", msg.Metadata)
	}
}

func TestFacebookNormalizeInboundIgnoresNonMessages(t *testing.T) {
	a := fbAdapter()

	cases := map[string]string{
		"wrong object": `{"object":"user","entry":[]}`,
		"no messaging": `{"object":"page","entry":[{"id":"p"}]}`,
		"read receipt": `{"object":"page","entry":[{"id":"p","messaging":[{"sender":{"id":"u"},"recipient":{"id":"p"}}]}]}`,
		"garbage":      `not json at all`,
	}
	for name, raw := range cases {
		msg, err := a.NormalizeInbound([]byte(raw))
		if err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
		}
		if msg != nil {
			t.Errorf("%s: expected nil message", name)
		}
	}
}

func TestFacebookAckStyle(t *testing.T) {
	if fbAdapter().AckStyle() != domain.AckAlwaysOK {
		t.Error("facebook must always be acknowledged")
	}
}
