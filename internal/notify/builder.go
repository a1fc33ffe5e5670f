package notify

import (
	"fmt"
	"time"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

// Message template sources. Kept inline: the set is small, fixed, and
// versioned with the code that fills it.
const (
	checkInEmailHTML = `<p>Hi {{ display_name | default: "there" }},</p>
<p>It is time for your scheduled check-in. Please confirm you are well within
{{ expires_at | time_until: now }}.</p>
<p><a href="{{ check_in_url }}">Confirm check-in</a></p>
<p>If you do nothing, your emergency contacts will eventually be notified.
This link works until {{ deadline }}.</p>`

	checkInEmailText = `Hi {{ display_name | default: "there" }},

It is time for your scheduled check-in. Please confirm you are well within
{{ expires_at | time_until: now }}: {{ check_in_url }}

This link works until {{ deadline }}.`

	checkInSMSBody = `Eternal Sentinel check-in: confirm within {{ expires_at | time_until: now }} at {{ check_in_url }}`

	graceEmailHTML = `<p>Hi {{ display_name | default: "there" }},</p>
<p><strong>You missed your last check-in.</strong> This is warning
{{ level }} of 3. Please confirm you are well within
{{ expires_at | time_until: now }}, before {{ deadline }}.</p>
<p><a href="{{ check_in_url }}">I'm OK — confirm now</a></p>
{% if level == 3 %}<p>If this final warning goes unanswered, your trustees
will be granted access to your vault and your final letters will be
delivered.</p>{% endif %}`

	graceEmailText = `Hi {{ display_name | default: "there" }},

You missed your last check-in. This is warning {{ level }} of 3.
Please confirm you are well within {{ expires_at | time_until: now }}:
{{ check_in_url }}
{% if level == 3 %}
If this final warning goes unanswered, your trustees will be granted access
to your vault and your final letters will be delivered.{% endif %}`

	graceSMSBody = `Eternal Sentinel warning {{ level }}/3: you missed a check-in. Confirm within {{ expires_at | time_until: now }} at {{ check_in_url }}`

	trusteeInviteHTML = `<p>Hello {{ trustee_name }},</p>
<p>{{ display_name }} has named you as a trustee on Eternal Sentinel. If
they ever stop responding to their check-ins, you would be granted access
to the vault they prepared for you.</p>
<p>Please confirm you accept this role:</p>
<p><a href="{{ verify_url }}">Verify my email</a></p>`

	trusteeAccessHTML = `<p>Hello {{ trustee_name }},</p>
<p>{{ display_name }} designated you as a trustee, and their account has
now been released to you. You have been granted access to their vault.</p>
<p><a href="{{ access_url }}">Open the vault</a></p>
<p>This access link expires on {{ access_expires }}. Treat it as you would
a key to their home.</p>`

	trusteeAccessSMSBody = `Eternal Sentinel: {{ display_name }} has released vault access to you. Open {{ access_url }} (expires {{ access_expires }}).`

	letterEmailHTML = `<p>Dear {{ recipient_name }},</p>
<p>{{ display_name }} wrote this letter to be delivered to you now.</p>
<hr>
{{ letter_body }}`
)

// Builder turns domain records into rendered messages. BaseURL is the
// externally reachable origin the links point at.
type Builder struct {
	Templates *Templates
	BaseURL   string
}

// NewBuilder creates a message builder.
func NewBuilder(baseURL string) *Builder {
	return &Builder{Templates: NewTemplates(), BaseURL: baseURL}
}

func (b *Builder) checkInURL(token string) string {
	return fmt.Sprintf("%s/checkin?token=%s", b.BaseURL, token)
}

// CheckInEmail builds the scheduled check-in prompt.
func (b *Builder) CheckInEmail(user *domain.User, c *domain.CheckIn, now time.Time) (*Email, error) {
	if user.Email == "" {
		return nil, ErrNoRecipient
	}
	vars := map[string]any{
		"display_name": user.DisplayName,
		"check_in_url": b.checkInURL(c.Token),
		"expires_at":   c.ExpiresAt,
		"deadline":     c.ExpiresAt.Format("January 2, 2006 15:04 MST"),
		"now":          now,
	}
	html, err := b.Templates.Render("checkin_email_html", checkInEmailHTML, vars)
	if err != nil {
		return nil, err
	}
	text, err := b.Templates.Render("checkin_email_text", checkInEmailText, vars)
	if err != nil {
		return nil, err
	}
	return &Email{To: user.Email, Subject: "Time to check in", HTML: html, Text: text}, nil
}

// CheckInSMS builds the SMS variant of the check-in prompt.
func (b *Builder) CheckInSMS(user *domain.User, c *domain.CheckIn, now time.Time) (*SMS, error) {
	if user.Phone == "" {
		return nil, ErrNoRecipient
	}
	body, err := b.Templates.Render("checkin_sms", checkInSMSBody, map[string]any{
		"check_in_url": b.checkInURL(c.Token),
		"expires_at":   c.ExpiresAt,
		"now":          now,
	})
	if err != nil {
		return nil, err
	}
	return &SMS{To: user.Phone, Message: body}, nil
}

// GraceWarningEmail builds the escalation warning for a grace-period
// check-in. Level 3 carries the release warning.
func (b *Builder) GraceWarningEmail(user *domain.User, c *domain.CheckIn, now time.Time) (*Email, error) {
	if user.Email == "" {
		return nil, ErrNoRecipient
	}
	vars := map[string]any{
		"display_name": user.DisplayName,
		"level":        c.GraceLevel,
		"check_in_url": b.checkInURL(c.Token),
		"expires_at":   c.ExpiresAt,
		"deadline":     c.ExpiresAt.Format("January 2, 2006 15:04 MST"),
		"now":          now,
	}
	html, err := b.Templates.Render("grace_email_html", graceEmailHTML, vars)
	if err != nil {
		return nil, err
	}
	text, err := b.Templates.Render("grace_email_text", graceEmailText, vars)
	if err != nil {
		return nil, err
	}
	subject := fmt.Sprintf("Missed check-in — warning %d of 3", c.GraceLevel)
	if c.GraceLevel >= 3 {
		subject = "Final warning — please check in"
	}
	return &Email{To: user.Email, Subject: subject, HTML: html, Text: text}, nil
}

// GraceWarningSMS builds the SMS variant of the escalation warning.
func (b *Builder) GraceWarningSMS(user *domain.User, c *domain.CheckIn, now time.Time) (*SMS, error) {
	if user.Phone == "" {
		return nil, ErrNoRecipient
	}
	body, err := b.Templates.Render("grace_sms", graceSMSBody, map[string]any{
		"level":        c.GraceLevel,
		"check_in_url": b.checkInURL(c.Token),
		"expires_at":   c.ExpiresAt,
		"now":          now,
	})
	if err != nil {
		return nil, err
	}
	return &SMS{To: user.Phone, Message: body}, nil
}

// TrusteeInviteEmail builds the verification invitation sent when a user
// adds a trustee.
func (b *Builder) TrusteeInviteEmail(user *domain.User, t *domain.Trustee) (*Email, error) {
	if t.Email == "" || t.VerificationToken == nil {
		return nil, ErrNoRecipient
	}
	html, err := b.Templates.Render("trustee_invite_html", trusteeInviteHTML, map[string]any{
		"trustee_name": t.Name,
		"display_name": user.DisplayName,
		"verify_url":   fmt.Sprintf("%s/trustee/verify?token=%s", b.BaseURL, *t.VerificationToken),
	})
	if err != nil {
		return nil, err
	}
	subject := fmt.Sprintf("%s named you as a trustee", user.DisplayName)
	return &Email{To: t.Email, Subject: subject, HTML: html}, nil
}

// TrusteeAccessEmail builds the release notification carrying the vault
// access link.
func (b *Builder) TrusteeAccessEmail(user *domain.User, t *domain.Trustee) (*Email, error) {
	if t.Email == "" || t.AccessToken == nil || t.AccessExpiresAt == nil {
		return nil, ErrNoRecipient
	}
	html, err := b.Templates.Render("trustee_access_html", trusteeAccessHTML, map[string]any{
		"trustee_name":   t.Name,
		"display_name":   user.DisplayName,
		"access_url":     fmt.Sprintf("%s/trustee/access?token=%s", b.BaseURL, *t.AccessToken),
		"access_expires": t.AccessExpiresAt.Format("January 2, 2006"),
	})
	if err != nil {
		return nil, err
	}
	subject := fmt.Sprintf("Vault access from %s", user.DisplayName)
	return &Email{To: t.Email, Subject: subject, HTML: html}, nil
}

// TrusteeAccessSMS builds the SMS variant of the access notification.
func (b *Builder) TrusteeAccessSMS(user *domain.User, t *domain.Trustee) (*SMS, error) {
	if t.Phone == "" || t.AccessToken == nil || t.AccessExpiresAt == nil {
		return nil, ErrNoRecipient
	}
	body, err := b.Templates.Render("trustee_access_sms", trusteeAccessSMSBody, map[string]any{
		"display_name":   user.DisplayName,
		"access_url":     fmt.Sprintf("%s/trustee/access?token=%s", b.BaseURL, *t.AccessToken),
		"access_expires": t.AccessExpiresAt.Format("Jan 2, 2006"),
	})
	if err != nil {
		return nil, err
	}
	return &SMS{To: t.Phone, Message: body}, nil
}

// LetterEmail builds a final letter delivery. The body arrives already
// unsealed; the letter store never holds it in the clear.
func (b *Builder) LetterEmail(user *domain.User, l *domain.FinalLetter, body string) (*Email, error) {
	if l.RecipientEmail == "" {
		return nil, ErrNoRecipient
	}
	html, err := b.Templates.Render("letter_email_html", letterEmailHTML, map[string]any{
		"recipient_name": l.RecipientName,
		"display_name":   user.DisplayName,
		"letter_body":    body,
	})
	if err != nil {
		return nil, err
	}
	return &Email{To: l.RecipientEmail, Subject: l.Subject, HTML: html}, nil
}
