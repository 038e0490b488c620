package service

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/JustFixNYC/tenants2-sub000/internal/letters/domain"
)

// DefaultLocale is the locale used for landlord- and authority-facing mail
// regardless of the letter author's locale.
const DefaultLocale = "en"

// MessageTemplate is a subject/body pair. Bodies are text/template sources
// evaluated against TemplateData.
type MessageTemplate struct {
	Subject string
	Body    string
}

// TemplateData is what message templates see.
type TemplateData struct {
	SenderName   string
	LandlordName string
	ProductLabel string
}

// Product configures the delivery engine for one letter product. One engine,
// many products, instead of one hand-copied pipeline per product.
type Product struct {
	Name  string
	Label string

	// Channels this product delivers through, in orchestration order.
	Channels []domain.Channel

	// PhysicalMailEnabled gates the certified mail channel for the product;
	// PhysicalMailRequiresOptIn additionally requires the author's consent.
	PhysicalMailEnabled       bool
	PhysicalMailRequiresOptIn bool

	// Templates maps locale -> channel -> message. Landlord- and
	// authority-facing messages always resolve through DefaultLocale;
	// sender-facing messages resolve through the letter's locale with a
	// DefaultLocale fallback.
	Templates map[string]map[domain.Channel]MessageTemplate
}

// HasChannel reports whether the product delivers through ch.
func (p *Product) HasChannel(ch domain.Channel) bool {
	for _, c := range p.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Message resolves and renders the template for a channel and locale. A
// locale without a template for the channel falls back to DefaultLocale.
func (p *Product) Message(ch domain.Channel, locale string, data TemplateData) (subject, body string, err error) {
	tpl, ok := p.Templates[locale][ch]
	if !ok {
		tpl, ok = p.Templates[DefaultLocale][ch]
	}
	if !ok {
		return "", "", fmt.Errorf("product %s: no template for channel %s", p.Name, ch)
	}
	data.ProductLabel = p.Label
	body, err = renderTemplate(tpl.Body, data)
	if err != nil {
		return "", "", fmt.Errorf("product %s channel %s: %w", p.Name, ch, err)
	}
	subject, err = renderTemplate(tpl.Subject, data)
	if err != nil {
		return "", "", fmt.Errorf("product %s channel %s: %w", p.Name, ch, err)
	}
	return subject, body, nil
}

func renderTemplate(src string, data TemplateData) (string, error) {
	t, err := template.New("msg").Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Registry resolves products by name.
type Registry map[string]*Product

func (r Registry) Get(name string) (*Product, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("unknown product %q", name)
	}
	return p, nil
}

// DefaultRegistry wires the products the engine ships with. The complaint
// letter always mails physically when an address exists; the declaration
// makes physical mail an author opt-in and skips the authority when no email
// is on file.
func DefaultRegistry() Registry {
	complaint := &Product{
		Name:  "complaint",
		Label: "Letter of Complaint",
		Channels: []domain.Channel{
			domain.ChannelEmailToLandlord,
			domain.ChannelCertifiedMail,
			domain.ChannelEmailToAuthority,
			domain.ChannelEmailToSender,
		},
		PhysicalMailEnabled: true,
		Templates: map[string]map[domain.Channel]MessageTemplate{
			"en": {
				domain.ChannelEmailToLandlord: {
					Subject: "{{.ProductLabel}} from {{.SenderName}}",
					Body:    "Dear {{.LandlordName}},\n\nPlease find attached a {{.ProductLabel}} regarding conditions in your tenant's home. A physical copy may also arrive by USPS Certified Mail.\n",
				},
				domain.ChannelEmailToAuthority: {
					Subject: "{{.ProductLabel}} submitted by {{.SenderName}}",
					Body:    "Attached is a copy of a {{.ProductLabel}} sent to the tenant's landlord, submitted for your records.\n",
				},
				domain.ChannelEmailToSender: {
					Subject: "Your {{.ProductLabel}} has been sent",
					Body:    "Hello {{.SenderName}},\n\nA copy of your {{.ProductLabel}} is attached for your records.\n",
				},
			},
			"es": {
				domain.ChannelEmailToSender: {
					Subject: "Su {{.ProductLabel}} ha sido enviada",
					Body:    "Hola {{.SenderName}},\n\nAdjuntamos una copia de su {{.ProductLabel}} para sus archivos.\n",
				},
			},
		},
	}

	declaration := &Product{
		Name:  "declaration",
		Label: "Hardship Declaration",
		Channels: []domain.Channel{
			domain.ChannelEmailToLandlord,
			domain.ChannelCertifiedMail,
			domain.ChannelEmailToAuthority,
			domain.ChannelEmailToSender,
		},
		PhysicalMailEnabled:       true,
		PhysicalMailRequiresOptIn: true,
		Templates: map[string]map[domain.Channel]MessageTemplate{
			"en": {
				domain.ChannelEmailToLandlord: {
					Subject: "{{.ProductLabel}} from {{.SenderName}}",
					Body:    "Dear {{.LandlordName}},\n\nAttached is a {{.ProductLabel}} from your tenant.\n",
				},
				domain.ChannelEmailToAuthority: {
					Subject: "{{.ProductLabel}} filed by {{.SenderName}}",
					Body:    "Attached is a {{.ProductLabel}} filed with the court by the tenant named within.\n",
				},
				domain.ChannelEmailToSender: {
					Subject: "Your {{.ProductLabel}} has been submitted",
					Body:    "Hello {{.SenderName}},\n\nYour {{.ProductLabel}} was delivered. A copy is attached.\n",
				},
			},
			"es": {
				domain.ChannelEmailToSender: {
					Subject: "Su {{.ProductLabel}} ha sido presentada",
					Body:    "Hola {{.SenderName}},\n\nSu {{.ProductLabel}} fue entregada. Adjuntamos una copia.\n",
				},
			},
		},
	}

	return Registry{
		complaint.Name:   complaint,
		declaration.Name: declaration,
	}
}
