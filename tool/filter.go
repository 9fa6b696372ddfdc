package tool

// Subset returns a new Handler containing only the tools from h whose names
// appear in allowed. Names without a matching registration are skipped. The
// returned Handler owns an independent registry; later registrations on either
// handler do not affect the other.
//
// Sub-agents use this to scope a parent's registry down to a specialization's
// allow-list.
func (h *Handler) Subset(allowed []string) *Handler {
	sub := NewHandler(h.logger)
	for _, name := range allowed {
		if t, ok := h.Get(name); ok {
			sub.Register(t)
		}
	}
	return sub
}
