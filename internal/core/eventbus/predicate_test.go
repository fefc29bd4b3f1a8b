package eventbus

import (
	"testing"

	"github.com/rl1809/vouch-desk/internal/core/domain"
)

func TestProofPredicate(t *testing.T) {
	proof := All(
		OfKind(domain.SignalMessage),
		FromActor("buyer"),
		InChannel("vouch"),
		WithImage(),
	)

	tests := []struct {
		name string
		sig  domain.Signal
		want bool
	}{
		{
			name: "image from buyer in vouch channel",
			sig: domain.Signal{Kind: domain.SignalMessage, ActorID: "buyer", ChannelID: "vouch",
				Attachments: []domain.Attachment{{Filename: "Proof.PNG"}}},
			want: true,
		},
		{
			name: "wrong actor",
			sig: domain.Signal{Kind: domain.SignalMessage, ActorID: "other", ChannelID: "vouch",
				Attachments: []domain.Attachment{{Filename: "proof.png"}}},
			want: false,
		},
		{
			name: "no attachment",
			sig:  domain.Signal{Kind: domain.SignalMessage, ActorID: "buyer", ChannelID: "vouch"},
			want: false,
		},
		{
			name: "non-image attachment",
			sig: domain.Signal{Kind: domain.SignalMessage, ActorID: "buyer", ChannelID: "vouch",
				Attachments: []domain.Attachment{{Filename: "notes.txt"}}},
			want: false,
		},
		{
			name: "wrong channel",
			sig: domain.Signal{Kind: domain.SignalMessage, ActorID: "buyer", ChannelID: "general",
				Attachments: []domain.Attachment{{Filename: "proof.jpg"}}},
			want: false,
		},
		{
			name: "reaction",
			sig:  domain.Signal{Kind: domain.SignalReaction, ActorID: "buyer", ChannelID: "vouch", Emoji: "🔒"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := proof(tt.sig); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAny(t *testing.T) {
	p := Any(FromActor("a"), WithRole("mod"))

	if !p(domain.Signal{ActorID: "a"}) {
		t.Error("expected match on actor")
	}
	if !p(domain.Signal{ActorID: "b", ActorRoles: []string{"mod"}}) {
		t.Error("expected match on role")
	}
	if p(domain.Signal{ActorID: "b"}) {
		t.Error("expected no match")
	}
}

func TestCompileCEL(t *testing.T) {
	p, err := CompileCEL(`signal.content.contains("REF123") && size(signal.attachments) > 0`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	match := domain.Signal{
		Kind:        domain.SignalMessage,
		Content:     "vouch REF123 thanks",
		Attachments: []domain.Attachment{{Filename: "a.png"}},
	}
	if !p(match) {
		t.Error("expected match")
	}

	noRef := match
	noRef.Content = "vouch thanks"
	if p(noRef) {
		t.Error("expected no match without reference")
	}
}

func TestCompileCEL_Invalid(t *testing.T) {
	if _, err := CompileCEL(""); err == nil {
		t.Error("expected error for empty expression")
	}
	if _, err := CompileCEL("signal.content.("); err == nil {
		t.Error("expected compile error")
	}
}

func TestCompileCEL_NonBoolIsNoMatch(t *testing.T) {
	p, err := CompileCEL(`signal.content`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if p(domain.Signal{Content: "true"}) {
		t.Error("non-boolean result must not match")
	}
}
