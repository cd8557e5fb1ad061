package channel

import (
	"sync"
	"testing"

	"unibox/internal/config"
	"unibox/internal/domain"
)

func TestRegistryCoversAllChannels(t *testing.T) {
	r := NewRegistry(config.Defaults(), testLogger())

	for _, ch := range domain.AllChannels() {
		a, ok := r.Get(ch)
		if !ok {
			t.Fatalf("no adapter for %s", ch)
		}
		if a.Channel() != ch {
			t.Errorf("adapter for %s reports %s", ch, a.Channel())
		}
	}
}

func TestRegistryStatusReflectsConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers.Twitter.BearerToken = "tok"

	r := NewRegistry(cfg, testLogger())
	status := r.Status()

	if !status[domain.ChannelTwitter] {
		t.Error("twitter should be configured")
	}
	if status[domain.ChannelSMS] {
		t.Error("sms should not be configured without credentials")
	}

	configured := r.ConfiguredChannels()
	if len(configured) != 1 || configured[0] != domain.ChannelTwitter {
		t.Errorf("configured = %v", configured)
	}
}

func TestRegistryConcurrentFirstUse(t *testing.T) {
	r := NewRegistry(config.Defaults(), testLogger())

	var wg sync.WaitGroup
	adapters := make([]domain.Adapter, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, ok := r.Get(domain.ChannelEmail)
			if !ok {
				t.Error("missing email adapter")
				return
			}
			adapters[i] = a
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(adapters); i++ {
		if adapters[i] != adapters[0] {
			t.Fatal("concurrent first use produced distinct adapter instances")
		}
	}
}
