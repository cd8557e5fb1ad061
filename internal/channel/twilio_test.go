package channel

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"unibox/internal/config"
	"unibox/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestTwilioConfigured(t *testing.T) {
	a := NewTwilio(domain.ChannelSMS, config.TwilioConfig{}, http.DefaultClient, testLogger())
	if a.Configured() {
		t.Error("empty config should not be configured")
	}

	a = NewTwilio(domain.ChannelSMS, config.TwilioConfig{
		AccountSID: "AC1", AuthToken: "tok", PhoneNumber: "+15550001111",
	}, http.DefaultClient, testLogger())
	if !a.Configured() {
		t.Error("full config should be configured")
	}
}

func TestTwilioSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("To"); got != "whatsapp:+15550002222" {
			t.Errorf("To = %q", got)
		}
		if got := r.PostForm.Get("From"); got != "whatsapp:+15550001111" {
			t.Errorf("From = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer srv.Close()

	a := NewTwilio(domain.ChannelWhatsApp, config.TwilioConfig{
		AccountSID: "AC1", AuthToken: "tok", PhoneNumber: "+15550001111", APIBase: srv.URL,
	}, srv.Client(), testLogger())

	res := a.Send(context.Background(), domain.OutboundPayload{To: "+15550002222", Content: "hi"})
	if !res.Success {
		t.Fatalf("send failed: %s", res.ErrorDetail)
	}
	if res.ExternalID != "SM123" {
		t.Errorf("externalID = %q", res.ExternalID)
	}
}

func TestTwilioSendProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid 'To' number"}`))
	}))
	defer srv.Close()

	a := NewTwilio(domain.ChannelSMS, config.TwilioConfig{
		AccountSID: "AC1", AuthToken: "tok", PhoneNumber: "+15550001111", APIBase: srv.URL,
	}, srv.Client(), testLogger())

	res := a.Send(context.Background(), domain.OutboundPayload{To: "bogus", Content: "hi"})
	if res.Success {
		t.Fatal("rejection should not be success")
	}
	if res.ErrorDetail != "invalid 'To' number" {
		t.Errorf("errorDetail = %q", res.ErrorDetail)
	}
}

func TestTwilioNormalizeInboundSMS(t *testing.T) {
	a := NewTwilio(domain.ChannelSMS, config.TwilioConfig{}, http.DefaultClient, testLogger())

	form := url.Values{}
	form.Set("MessageSid", "SM789")
	form.Set("From", "+1 (555) 000-9999")
	form.Set("To", "+15550001111")
	form.Set("Body", "hello there")
	form.Set("NumMedia", "2")
	form.Set("MediaUrl0", "https://api.twilio.com/media/0")
	form.Set("MediaUrl1", "https://api.twilio.com/media/1")

	msg, err := a.NormalizeInbound([]byte(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.Channel != domain.ChannelSMS {
		t.Errorf("channel = %s", msg.Channel)
	}
	if msg.ExternalID != "SM789" {
		t.Errorf("externalID = %q", msg.ExternalID)
	}
	if msg.Content != "hello there" {
		t.Errorf("content = %q", msg.Content)
	}
	if len(msg.MediaURLs) != 2 {
		t.Errorf("media = %v", msg.MediaURLs)
	}
}

func TestTwilioNormalizeInboundWhatsAppPrefix(t *testing.T) {
	a := NewTwilio(domain.ChannelWhatsApp, config.TwilioConfig{}, http.DefaultClient, testLogger())

	form := url.Values{}
	form.Set("MessageSid", "SM1")
	form.Set("From", "whatsapp:+15550009999")
	form.Set("Body", "hola")

	msg, err := a.NormalizeInbound([]byte(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Channel != domain.ChannelWhatsApp {
		t.Errorf("channel = %s", msg.Channel)
	}
	if !IsWhatsAppCallback([]byte(form.Encode())) {
		t.Error("IsWhatsAppCallback should detect the prefix")
	}
}

func TestTwilioNormalizeInboundStatusCallback(t *testing.T) {
	a := NewTwilio(domain.ChannelSMS, config.TwilioConfig{}, http.DefaultClient, testLogger())

	form := url.Values{}
	form.Set("MessageSid", "SM2")
	form.Set("MessageStatus", "delivered")
	form.Set("From", "+15550009999")

	msg, err := a.NormalizeInbound([]byte(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	if msg != nil {
		t.Error("status callbacks should be ignored")
	}
}
