package eventbus

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rl1809/vouch-desk/internal/core/domain"
)

// All matches when every predicate matches.
func All(preds ...Predicate) Predicate {
	return func(sig domain.Signal) bool {
		for _, p := range preds {
			if !p(sig) {
				return false
			}
		}
		return true
	}
}

// Any matches when at least one predicate matches.
func Any(preds ...Predicate) Predicate {
	return func(sig domain.Signal) bool {
		for _, p := range preds {
			if p(sig) {
				return true
			}
		}
		return false
	}
}

func OfKind(kind domain.SignalKind) Predicate {
	return func(sig domain.Signal) bool { return sig.Kind == kind }
}

func FromActor(actorID string) Predicate {
	return func(sig domain.Signal) bool { return sig.ActorID == actorID }
}

func InChannel(channelID string) Predicate {
	return func(sig domain.Signal) bool { return sig.ChannelID == channelID }
}

// OnMessage matches reactions added to the given message.
func OnMessage(messageID string) Predicate {
	return func(sig domain.Signal) bool { return sig.MessageID == messageID }
}

func WithEmoji(emoji string) Predicate {
	return func(sig domain.Signal) bool { return sig.Emoji == emoji }
}

func WithImage() Predicate {
	return func(sig domain.Signal) bool { return sig.HasImage() }
}

func WithRole(role string) Predicate {
	return func(sig domain.Signal) bool { return sig.HasRole(role) }
}

// CompileCEL builds a predicate from a CEL expression over the variable
// `signal`, e.g. `signal.content.contains(signal.actor)`. Evaluation errors
// and non-boolean results count as no match.
func CompileCEL(expr string) (Predicate, error) {
	if expr == "" {
		return nil, errors.New("empty expression")
	}

	env, err := cel.NewEnv(cel.Variable("signal", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}

	return func(sig domain.Signal) bool {
		out, _, err := prg.Eval(map[string]any{"signal": activation(sig)})
		if err != nil {
			return false
		}
		ok, isBool := out.Value().(bool)
		return isBool && ok
	}, nil
}

func activation(sig domain.Signal) map[string]any {
	attachments := make([]any, 0, len(sig.Attachments))
	for _, a := range sig.Attachments {
		attachments = append(attachments, map[string]any{
			"filename":    a.Filename,
			"url":         a.URL,
			"contentType": a.ContentType,
		})
	}
	roles := make([]any, 0, len(sig.ActorRoles))
	for _, r := range sig.ActorRoles {
		roles = append(roles, r)
	}
	return map[string]any{
		"kind":        string(sig.Kind),
		"id":          sig.ID,
		"channel":     sig.ChannelID,
		"actor":       sig.ActorID,
		"roles":       roles,
		"message":     sig.MessageID,
		"content":     sig.Content,
		"emoji":       sig.Emoji,
		"attachments": attachments,
	}
}
