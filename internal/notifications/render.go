package notifications

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/domain/user"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var ErrUnknownKind = errors.New("no template for job kind")

const dateLayout = "January 02, 2006 at 03:04 PM"

// RenderInput is loaded fresh from the store when the job is delivered.
type RenderInput struct {
	JobID     string
	Kind      job.Kind
	User      user.User
	Event     event.Event
	Organizer *user.User
}

type template struct {
	subject string
	heading string
	intro   string
	outro   string
	showOrg bool
}

var templates = map[job.Kind]template{
	job.KindRegistrationConfirmed: {
		subject: "Registration Confirmation: %s",
		heading: "Registration Confirmation",
		intro:   "You have successfully registered for the following event:",
		outro:   "We look forward to seeing you at the event!",
		showOrg: true,
	},
	job.KindRegistrationCancelled: {
		subject: "Registration Cancelled: %s",
		heading: "Registration Cancellation",
		intro:   "Your registration for the following event has been cancelled:",
		outro:   "If you wish to register again, please visit the event page.",
	},
	job.KindEventReminder: {
		subject: "Event Reminder: %s",
		heading: "Event Reminder",
		intro:   "This is a reminder that you are registered for the following event:",
		outro:   "We look forward to seeing you!",
	},
}

type Renderer struct {
	p       *message.Printer
	signoff string
}

// NewRenderer builds a renderer for lang (BCP 47); unknown tags fall back to
// English.
func NewRenderer(lang, signoff string) *Renderer {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	if signoff == "" {
		signoff = "Event Management Team"
	}
	return &Renderer{p: message.NewPrinter(tag), signoff: signoff}
}

func (r *Renderer) Render(in RenderInput) (Message, error) {
	tpl, ok := templates[in.Kind]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownKind, in.Kind)
	}

	type field struct{ label, value string }
	fields := []field{
		{"Event", in.Event.Title},
		{"Date", in.Event.StartAt.Format(dateLayout)},
		{"Location", in.Event.Location},
	}
	if tpl.showOrg && in.Organizer != nil {
		fields = append(fields, field{"Organizer", in.Organizer.DisplayName()})
	}

	greeting := r.p.Sprintf("Dear %s,", in.User.DisplayName())

	var text strings.Builder
	text.WriteString(tpl.heading + "\n\n")
	text.WriteString(greeting + "\n\n")
	text.WriteString(tpl.intro + "\n\n")
	for _, f := range fields {
		text.WriteString(r.p.Sprintf("%s: %s\n", f.label, f.value))
	}
	text.WriteString("\n" + tpl.outro + "\n\n")
	text.WriteString("Best regards,\n" + r.signoff + "\n")

	var body strings.Builder
	body.WriteString("<h2>" + html.EscapeString(tpl.heading) + "</h2>\n")
	body.WriteString("<p>" + html.EscapeString(greeting) + "</p>\n")
	body.WriteString("<p>" + html.EscapeString(tpl.intro) + "</p>\n<ul>\n")
	for _, f := range fields {
		body.WriteString(r.p.Sprintf("<li><strong>%s:</strong> %s</li>\n", f.label, html.EscapeString(f.value)))
	}
	body.WriteString("</ul>\n<p>" + html.EscapeString(tpl.outro) + "</p>\n")
	body.WriteString("<p>Best regards,<br>" + html.EscapeString(r.signoff) + "</p>\n")

	return Message{
		JobID:   in.JobID,
		Kind:    string(in.Kind),
		To:      in.User.Email,
		Subject: r.p.Sprintf(tpl.subject, in.Event.Title),
		Text:    text.String(),
		HTML:    body.String(),
	}, nil
}
