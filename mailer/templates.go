package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

var (
	resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Reset your SecuryFlex password</title></head>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
<p>Hello {{.Name}},</p>
<p>We received a request to reset the password of your SecuryFlex account.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>This link works once and expires at {{.Expires}}. If you did not ask for a reset you can ignore this message.</p>
</body>
</html>
`))

	verifyTemplate = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Confirm your email address</title></head>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
<p>Hello {{.Name}},</p>
<p>Welcome to SecuryFlex. Please confirm your email address to finish setting up your account.</p>
<p><a href="{{.Link}}">Confirm email address</a></p>
<p>This link expires at {{.Expires}}.</p>
</body>
</html>
`))
)

const (
	resetSubject  = "Reset your SecuryFlex password"
	verifySubject = "Confirm your SecuryFlex email address"
)

type templateData struct {
	Name    string
	Link    string
	Expires string
}

// Links builds the URLs placed in outgoing mail.
type Links struct {
	// BaseURL is the public frontend origin, e.g. https://securyflex.nl.
	BaseURL    string
	ResetPath  string
	VerifyPath string
}

func (l Links) reset(token string) string {
	return l.build(l.ResetPath, "/reset-password", token)
}

func (l Links) verify(token string) string {
	return l.build(l.VerifyPath, "/verify-email", token)
}

func (l Links) build(path, fallback, token string) string {
	if path == "" {
		path = fallback
	}
	return strings.TrimRight(l.BaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func render(tmpl *template.Template, name, link string, expiresAt time.Time) (string, error) {
	if name == "" {
		name = "there"
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, templateData{
		Name:    name,
		Link:    link,
		Expires: expiresAt.UTC().Format("2 Jan 2006 15:04 MST"),
	})
	if err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
