package tenant

import "testing"

func TestNormalizeChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Channel
	}{
		{"phone", ChannelVoice},
		{"voice", ChannelVoice},
		{" Phone ", ChannelVoice},
		{"sms", ChannelSMS},
		{"text", ChannelSMS},
		{"website", ChannelWebsite},
		{"web", ChannelWebsite},
		{"webchat", ChannelWebsite},
		{"test", ChannelTest},
		{"console", ChannelTest},
		{"carrier-pigeon", Channel("carrier-pigeon")},
	}
	for _, tc := range tests {
		if got := NormalizeChannel(tc.raw); got != tc.want {
			t.Errorf("NormalizeChannel(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestChannelIsValid(t *testing.T) {
	t.Parallel()
	for _, c := range []Channel{ChannelVoice, ChannelSMS, ChannelWebsite, ChannelTest} {
		if !c.IsValid() {
			t.Errorf("%q should be valid", c)
		}
	}
	if Channel("fax").IsValid() {
		t.Error("unknown channel accepted")
	}
}

func TestHasDiscoveryFlow(t *testing.T) {
	t.Parallel()
	var b FrontDeskBehavior
	if b.HasDiscoveryFlow() {
		t.Error("empty behavior should not have a discovery flow")
	}
	b.DiscoveryFlowSteps = []string{"issue", "urgency"}
	if !b.HasDiscoveryFlow() {
		t.Error("configured steps should enable the discovery flow")
	}
}
