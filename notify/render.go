package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var subjects = map[string]string{
	JobSendVerificationCode: "Verify your email",
	JobSendResetCode:        "Password Reset Request",
	JobRequestNewEmail:      "Confirm your new email",
	JobConfirmEmailChange:   "Email Successfully Updated",
}

func knownJobType(jobType string) bool {
	_, ok := subjects[jobType]
	return ok
}

// TemplateData is what every template sees.
type TemplateData struct {
	Name      string
	Code      string
	Product   string
	ExpiresIn string
}

// Rendered is a message body ready to send.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer holds the parsed templates for every job type.
type Renderer struct {
	product   string
	expiresIn string
	html      map[string]*htmltemplate.Template
	text      map[string]*texttemplate.Template
}

// NewRenderer parses the embedded templates. product appears in greetings and
// codeTTL is printed as the code lifetime.
func NewRenderer(product string, codeTTL time.Duration) (*Renderer, error) {
	if product == "" {
		product = "passkit"
	}
	layout, err := htmltemplate.ParseFS(templateFS, "templates/layout.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("notify: parse layout: %w", err)
	}

	r := &Renderer{
		product:   product,
		expiresIn: humanDuration(codeTTL),
		html:      make(map[string]*htmltemplate.Template, len(subjects)),
		text:      make(map[string]*texttemplate.Template, len(subjects)),
	}
	for jobType := range subjects {
		h, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		if r.html[jobType], err = h.ParseFS(templateFS, "templates/"+jobType+".html.tmpl"); err != nil {
			return nil, fmt.Errorf("notify: parse %s html: %w", jobType, err)
		}
		if r.text[jobType], err = texttemplate.ParseFS(templateFS, "templates/"+jobType+".txt.tmpl"); err != nil {
			return nil, fmt.Errorf("notify: parse %s text: %w", jobType, err)
		}
	}
	return r, nil
}

// Render produces the subject and both bodies for jobType.
func (r *Renderer) Render(jobType string, p Payload) (Rendered, error) {
	h, ok := r.html[jobType]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	data := TemplateData{
		Name:      displayName(p),
		Code:      p.Code,
		Product:   r.product,
		ExpiresIn: r.expiresIn,
	}

	var html bytes.Buffer
	if err := h.ExecuteTemplate(&html, "layout", data); err != nil {
		return Rendered{}, fmt.Errorf("notify: render %s html: %w", jobType, err)
	}
	var text bytes.Buffer
	if err := r.text[jobType].Execute(&text, data); err != nil {
		return Rendered{}, fmt.Errorf("notify: render %s text: %w", jobType, err)
	}
	return Rendered{
		Subject: subjects[jobType],
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

func displayName(p Payload) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	if at := strings.IndexByte(p.To, '@'); at > 0 {
		return p.To[:at]
	}
	return "there"
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a few minutes"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
