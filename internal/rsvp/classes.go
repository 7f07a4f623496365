package rsvp

import "strings"

// AppendClasses completes a reservation class list. The caller's tokens are
// kept untouched and in order; at most a hardware class and an OS class are
// appended:
//
//   - if none of the configured hardware classes is present, the platform
//     default hardware class is appended;
//   - if none of the configured OS classes (including the catch-all ALL) is
//     present, one is derived: the configured override if set, else the
//     detected OS distribution, else the last-resort default.
//
// Token comparison is case-insensitive on whole tokens only.
func (c *Client) AppendClasses(classes []string) []string {
	out := append([]string(nil), classes...)

	if !containsAnyToken(classes, c.cfg.Classes.Hardware) {
		out = append(out, c.cfg.Classes.DefaultHardware)
	}

	if !containsAnyToken(classes, c.cfg.Classes.OS) {
		out = append(out, c.osClass())
	}

	return out
}

func (c *Client) osClass() string {
	if c.cfg.Classes.OSOverride != "" {
		return c.cfg.Classes.OSOverride
	}
	if id, err := c.detect(); err == nil {
		return strings.ToUpper(id)
	} else {
		c.log.WithError(err).Debug("could not detect OS distribution")
	}
	return c.cfg.Classes.DefaultOS
}

func containsAnyToken(list, candidates []string) bool {
	for _, cand := range candidates {
		if containsToken(list, cand) {
			return true
		}
	}
	return false
}
