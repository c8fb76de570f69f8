// Package render turns a campaign template into the final per-recipient
// message body: placeholder substitution, link shortening, tracking ID
// generation and the per-recipient opt-out link.
package render

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"savanna-sms/internal/core/domain"
)

// Renderer produces fully rendered message bodies. A nil Shortener disables
// link shortening; failures to shorten or to build the opt-out link degrade
// gracefully and never block a send.
type Renderer struct {
	shortener   *Shortener
	optOutBase  string
	tokenSecret []byte
}

// NewRenderer creates a renderer. optOutBase is the public base URL opt-out
// links are built on; tokenSecret signs the per-recipient opt-out token.
func NewRenderer(shortener *Shortener, optOutBase string, tokenSecret []byte) *Renderer {
	return &Renderer{
		shortener:   shortener,
		optOutBase:  strings.TrimRight(optOutBase, "/"),
		tokenSecret: tokenSecret,
	}
}

// NewTrackingID returns a fresh message tracking identifier.
func NewTrackingID() string {
	return uuid.NewString()
}

// Render substitutes the contact's fields into the template, shortens any
// embedded links and appends the opt-out link. The second return value is
// false when the opt-out link could not be built; the body is still usable.
func (r *Renderer) Render(template string, contact domain.Contact, trackingID string) (string, bool) {
	body := Substitute(template, contact)
	body = r.shortenLinks(body)

	optOut, err := r.OptOutLink(contact.ID, trackingID)
	if err != nil {
		return body, false
	}
	return body + " Opt out: " + optOut, true
}

// Substitute replaces {placeholder} markers with contact fields. Unknown
// markers are left as-is; empty fields render as an empty string.
func Substitute(template string, contact domain.Contact) string {
	replacer := strings.NewReplacer(
		"{first_name}", contact.FirstName,
		"{last_name}", contact.LastName,
		"{phone}", contact.Phone,
		"{email}", contact.Email,
	)
	return replacer.Replace(template)
}

// OptOutLink builds the per-recipient unsubscribe URL. The token binds the
// contact to the tracking ID so a leaked link cannot opt out someone else.
func (r *Renderer) OptOutLink(contactID int64, trackingID string) (string, error) {
	if r.optOutBase == "" {
		return "", fmt.Errorf("no opt-out base URL configured")
	}
	token := r.optOutToken(contactID, trackingID)
	link := fmt.Sprintf("%s/u/%d/%s", r.optOutBase, contactID, token)
	if r.shortener != nil {
		if short, err := r.shortener.Shorten(link); err == nil {
			return short, nil
		}
		// shortener failure degrades to the long link
	}
	return link, nil
}

// VerifyOptOutToken reports whether the token matches the contact and
// tracking ID it was issued for.
func (r *Renderer) VerifyOptOutToken(contactID int64, trackingID, token string) bool {
	return hmac.Equal([]byte(r.optOutToken(contactID, trackingID)), []byte(token))
}

func (r *Renderer) optOutToken(contactID int64, trackingID string) string {
	mac := hmac.New(sha256.New, r.tokenSecret)
	fmt.Fprintf(mac, "%d:%s", contactID, trackingID)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:16]
}

// shortenLinks replaces every http(s) URL in the body with its shortened
// form. Failures leave the original URL in place.
func (r *Renderer) shortenLinks(body string) string {
	if r.shortener == nil {
		return body
	}
	fields := strings.Fields(body)
	changed := false
	for i, f := range fields {
		if !strings.HasPrefix(f, "http://") && !strings.HasPrefix(f, "https://") {
			continue
		}
		short, err := r.shortener.Shorten(f)
		if err != nil {
			continue
		}
		fields[i] = short
		changed = true
	}
	if !changed {
		return body
	}
	return strings.Join(fields, " ")
}
