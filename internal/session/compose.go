package session

// EffectiveSystem resolves the system directive for one call: the per-call
// override when given, else the session's sticky directive, else empty.
func (s *Store) EffectiveSystem(key, override string) string {
	if override != "" {
		return override
	}
	sess, ok := s.Get(key)
	if !ok {
		return ""
	}
	return sess.System
}

// Compose builds the ordered message list for one completion call:
// [system entry if non-empty] + stored turns + [new user turn if non-empty].
// It reads store state but never mutates it; only the new user turn and the
// resulting assistant turn are folded back afterwards via Upsert.
func (s *Store) Compose(key, overrideSystem, userText string) []Message {
	system := s.EffectiveSystem(key, overrideSystem)

	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Text: system})
	}
	if sess, ok := s.Get(key); ok {
		msgs = append(msgs, sess.Turns...)
	}
	if userText != "" {
		msgs = append(msgs, Message{Role: RoleUser, Text: userText})
	}
	return msgs
}
