package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "unknown"},
		{-3, "unknown"},
		{59, "0:59"},
		{60, "1:00"},
		{61.7, "1:01"},
		{3600, "60:00"},
	}
	for _, tt := range tests {
		if got := fmtDuration(tt.seconds); got != tt.want {
			t.Errorf("fmtDuration(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	m := &discordgo.Member{User: &discordgo.User{Username: "user"}}
	if got := displayName(m); got != "user" {
		t.Errorf("displayName = %q, want user", got)
	}

	m.Nick = "nick"
	if got := displayName(m); got != "nick" {
		t.Errorf("displayName = %q, want nick", got)
	}
}
