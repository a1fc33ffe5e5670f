package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/osteele/liquid"
)

// Templates renders message bodies through Liquid with the platform's
// custom filters. Parsed templates are cached by name; the set of
// templates is fixed at build time so the cache never invalidates.
type Templates struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplates creates the template engine and registers filters.
func NewTemplates() *Templates {
	t := &Templates{engine: liquid.NewEngine()}

	// Default value: {{ display_name | default: "there" }}
	t.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// Deadline phrasing: {{ expires_at | time_until: now }} -> "3 days"
	t.engine.RegisterFilter("time_until", func(deadline time.Time, now time.Time) string {
		return HumanDuration(deadline.Sub(now))
	})

	// Partially masked email for messages that reference a third party:
	// {{ trustee_email | mask_email }} -> "jo***@example.com"
	t.engine.RegisterFilter("mask_email", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) != 2 {
			return "***"
		}
		if len(parts[0]) > 2 {
			return parts[0][:2] + "***@" + parts[1]
		}
		return "***@" + parts[1]
	})

	return t
}

// Render renders the named template source with the given bindings.
func (t *Templates) Render(name, source string, vars map[string]any) (string, error) {
	var tmpl *liquid.Template
	if cached, ok := t.cache.Load(name); ok {
		tmpl = cached.(*liquid.Template)
	} else {
		parsed, err := t.engine.ParseString(source)
		if err != nil {
			return "", fmt.Errorf("parse template %s: %w", name, err)
		}
		t.cache.Store(name, parsed)
		tmpl = parsed
	}

	out, err := tmpl.Render(vars)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return string(out), nil
}

// HumanDuration phrases a duration the way the messages need it: the
// largest whole unit, never negative.
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	case d >= 24*time.Hour:
		return "1 day"
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d >= time.Hour:
		return "1 hour"
	case d >= 2*time.Minute:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return "moments"
	}
}
