package mailer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

const (
	TemplateInvoiceCreated = "invoice_created"
	TemplatePaymentSettled = "payment_settled"
)

var funcs = template.FuncMap{
	"idr":  formatIDR,
	"join": strings.Join,
}

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
	decode  func(json.RawMessage) (any, error)
}

func decodeInto[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var templates = map[string]mailTemplate{
	TemplateInvoiceCreated: {
		subject: template.Must(template.New("subject").Funcs(funcs).Parse(
			`Your invoice for order {{.CorrelationID}}`)),
		body: template.Must(template.New("body").Funcs(funcs).Parse(`Hi {{.CustomerName}},

Thanks for your order. Please complete the payment of {{idr .GrossAmount}} here:
{{.RedirectURL}}

Invoices: {{join .InvoiceIDs ", "}}
`)),
		decode: decodeInto[domain.InvoiceCreatedEvent],
	},
	TemplatePaymentSettled: {
		subject: template.Must(template.New("subject").Funcs(funcs).Parse(
			`Payment received for order {{.CorrelationID}}`)),
		body: template.Must(template.New("body").Funcs(funcs).Parse(`Hi {{.CustomerName}},

We received your payment of {{idr .PaidAmount}}{{if .PaymentType}} via {{.PaymentType}}{{end}}.
Your orders are being processed: {{join .InvoiceIDs ", "}}
`)),
		decode: decodeInto[domain.PaymentSettledEvent],
	},
}

// Render fills the named template with data, which must decode into the
// event type the template expects.
func Render(name string, data json.RawMessage) (subject, body string, err error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}

	v, err := tmpl.decode(data)
	if err != nil {
		return "", "", fmt.Errorf("decode %s data: %w", name, err)
	}

	var s, b bytes.Buffer
	if err := tmpl.subject.Execute(&s, v); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.body.Execute(&b, v); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return s.String(), b.String(), nil
}

// formatIDR renders 1500000 as "Rp1.500.000".
func formatIDR(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)

	var sb strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(d)
	}
	return sign + "Rp" + sb.String()
}
