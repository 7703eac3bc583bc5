package tokenengine

import (
	"encoding/xml"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/idsrv/idsrv/principal"
	"github.com/idsrv/idsrv/token"
)

const (
	saml11NS = "urn:oasis:names:tc:SAML:1.0:assertion"
	saml20NS = "urn:oasis:names:tc:SAML:2.0:assertion"

	authnClassPassword = "urn:oasis:names:tc:SAML:2.0:ac:classes:Password"
	authnClassX509     = "urn:oasis:names:tc:SAML:2.0:ac:classes:X509"
)

func (e *Engine) issueSAML(tokenType token.Type, audience string, p principal.Principal) (token.SecurityToken, error) {
	now := e.now().UTC()
	notAfter := now.Add(e.lifetime)
	id := "_" + uuid.NewString()

	method, _ := p.First(principal.ClaimAuthMethod)
	attrs := samlAttributes(p)

	if tokenType == token.TypeSAML11 {
		return &xmlToken{v: saml11Assertion{
			NS:           saml11NS,
			AssertionID:  id,
			MajorVersion: "1",
			MinorVersion: "1",
			Issuer:       e.issuer,
			IssueInstant: now.Format(time.RFC3339),
			Conditions: saml11Conditions{
				NotBefore:    now.Format(time.RFC3339),
				NotOnOrAfter: notAfter.Format(time.RFC3339),
				Audience:     audience,
			},
			AuthnStatement: saml11AuthnStatement{
				AuthenticationMethod:  authnClass(method),
				AuthenticationInstant: now.Format(time.RFC3339),
				Subject:               saml11Subject{NameIdentifier: p.Name},
			},
			AttributeStatement: saml11AttributeStatement{
				Subject:    saml11Subject{NameIdentifier: p.Name},
				Attributes: attrs.saml11(),
			},
		}}, nil
	}

	return &xmlToken{v: saml20Assertion{
		NS:           saml20NS,
		ID:           id,
		Version:      "2.0",
		IssueInstant: now.Format(time.RFC3339),
		Issuer:       e.issuer,
		Subject:      saml20Subject{NameID: p.Name},
		Conditions: saml20Conditions{
			NotBefore:    now.Format(time.RFC3339),
			NotOnOrAfter: notAfter.Format(time.RFC3339),
			Audience:     audience,
		},
		AuthnStatement: saml20AuthnStatement{
			AuthnInstant: now.Format(time.RFC3339),
			ClassRef:     authnClass(method),
		},
		AttributeStatement: saml20AttributeStatement{Attributes: attrs.saml20()},
	}}, nil
}

func authnClass(method string) string {
	if method == principal.MethodX509 {
		return authnClassX509
	}
	return authnClassPassword
}

// attributeSet carries folded claims in first-seen order so assertion output
// is deterministic.
type attributeSet struct {
	order  []string
	values map[string][]string
}

func samlAttributes(p principal.Principal) attributeSet {
	as := attributeSet{values: make(map[string][]string)}
	for _, c := range p.Claims {
		switch c.Type {
		case principal.ClaimName, principal.ClaimAuthMethod, principal.ClaimAuthInstant:
			// Carried by the subject and authentication statement.
			continue
		}
		if _, seen := as.values[c.Type]; !seen {
			as.order = append(as.order, c.Type)
		}
		as.values[c.Type] = append(as.values[c.Type], c.Value)
	}
	return as
}

func (as attributeSet) saml11() []saml11Attribute {
	out := make([]saml11Attribute, 0, len(as.order))
	for _, t := range as.order {
		out = append(out, saml11Attribute{Name: t, Values: as.values[t]})
	}
	return out
}

func (as attributeSet) saml20() []saml20Attribute {
	out := make([]saml20Attribute, 0, len(as.order))
	for _, t := range as.order {
		out = append(out, saml20Attribute{Name: t, Values: as.values[t]})
	}
	return out
}

// xmlToken is a token with only an XML serialization.
type xmlToken struct {
	v any
}

func (t *xmlToken) CompactString() (string, error) {
	return "", errors.New("tokenengine: xml token has no compact serialization")
}

func (t *xmlToken) WriteXML(w io.Writer) error {
	return xml.NewEncoder(w).Encode(t.v)
}

// --- SAML 1.1 assertion shapes ---

type saml11Assertion struct {
	XMLName            xml.Name `xml:"saml:Assertion"`
	NS                 string   `xml:"xmlns:saml,attr"`
	MajorVersion       string   `xml:"MajorVersion,attr"`
	MinorVersion       string   `xml:"MinorVersion,attr"`
	AssertionID        string   `xml:"AssertionID,attr"`
	Issuer             string   `xml:"Issuer,attr"`
	IssueInstant       string   `xml:"IssueInstant,attr"`
	Conditions         saml11Conditions
	AuthnStatement     saml11AuthnStatement
	AttributeStatement saml11AttributeStatement
}

type saml11Conditions struct {
	XMLName      xml.Name `xml:"saml:Conditions"`
	NotBefore    string   `xml:"NotBefore,attr"`
	NotOnOrAfter string   `xml:"NotOnOrAfter,attr"`
	Audience     string   `xml:"saml:AudienceRestrictionCondition>saml:Audience"`
}

type saml11Subject struct {
	XMLName        xml.Name `xml:"saml:Subject"`
	NameIdentifier string   `xml:"saml:NameIdentifier"`
}

type saml11AuthnStatement struct {
	XMLName               xml.Name `xml:"saml:AuthenticationStatement"`
	AuthenticationMethod  string   `xml:"AuthenticationMethod,attr"`
	AuthenticationInstant string   `xml:"AuthenticationInstant,attr"`
	Subject               saml11Subject
}

type saml11AttributeStatement struct {
	XMLName    xml.Name `xml:"saml:AttributeStatement"`
	Subject    saml11Subject
	Attributes []saml11Attribute
}

type saml11Attribute struct {
	XMLName xml.Name `xml:"saml:Attribute"`
	Name    string   `xml:"AttributeName,attr"`
	Values  []string `xml:"saml:AttributeValue"`
}

// --- SAML 2.0 assertion shapes ---

type saml20Assertion struct {
	XMLName            xml.Name `xml:"saml2:Assertion"`
	NS                 string   `xml:"xmlns:saml2,attr"`
	ID                 string   `xml:"ID,attr"`
	Version            string   `xml:"Version,attr"`
	IssueInstant       string   `xml:"IssueInstant,attr"`
	Issuer             string   `xml:"saml2:Issuer"`
	Subject            saml20Subject
	Conditions         saml20Conditions
	AuthnStatement     saml20AuthnStatement
	AttributeStatement saml20AttributeStatement
}

type saml20Subject struct {
	XMLName xml.Name `xml:"saml2:Subject"`
	NameID  string   `xml:"saml2:NameID"`
}

type saml20Conditions struct {
	XMLName      xml.Name `xml:"saml2:Conditions"`
	NotBefore    string   `xml:"NotBefore,attr"`
	NotOnOrAfter string   `xml:"NotOnOrAfter,attr"`
	Audience     string   `xml:"saml2:AudienceRestriction>saml2:Audience"`
}

type saml20AuthnStatement struct {
	XMLName      xml.Name `xml:"saml2:AuthnStatement"`
	AuthnInstant string   `xml:"AuthnInstant,attr"`
	ClassRef     string   `xml:"saml2:AuthnContext>saml2:AuthnContextClassRef"`
}

type saml20AttributeStatement struct {
	XMLName    xml.Name `xml:"saml2:AttributeStatement"`
	Attributes []saml20Attribute
}

type saml20Attribute struct {
	XMLName xml.Name `xml:"saml2:Attribute"`
	Name    string   `xml:"Name,attr"`
	Values  []string `xml:"saml2:AttributeValue"`
}
