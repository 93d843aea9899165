// SOAP 1.1 envelopes for UPnP control requests and responses.
package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

const (
	EnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	EncodingNS = "http://schemas.xmlsoap.org/soap/encoding/"
)

// Arg is one argument tag inside the action element. Argument order is
// significant: some device actions reject envelopes whose tags arrive
// out of the declared order.
type Arg struct {
	Name  string
	Value string
}

// Request describes one UPnP action invocation. Args are emitted in
// slice order.
type Request struct {
	Action      string
	ServiceType string
	Args        []Arg
}

// SOAPAction returns the value for the SOAPACTION request header,
// quotes included.
func (r Request) SOAPAction() string {
	return fmt.Sprintf("%q", r.ServiceType+"#"+r.Action)
}

// Encode renders the SOAP 1.1 envelope for the request.
func (r Request) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	envelope := xml.StartElement{
		Name: xml.Name{Local: "s:Envelope"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:s"}, Value: EnvelopeNS},
			{Name: xml.Name{Local: "s:encodingStyle"}, Value: EncodingNS},
		},
	}
	body := xml.StartElement{Name: xml.Name{Local: "s:Body"}}
	action := xml.StartElement{
		Name: xml.Name{Local: "u:" + r.Action},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:u"}, Value: r.ServiceType},
		},
	}
	for _, tok := range []xml.Token{envelope, body, action} {
		if err := enc.EncodeToken(tok); err != nil {
			return nil, err
		}
	}
	for _, a := range r.Args {
		el := xml.StartElement{Name: xml.Name{Local: a.Name}}
		if err := enc.EncodeElement(a.Value, el); err != nil {
			return nil, fmt.Errorf("encoding argument %s: %w", a.Name, err)
		}
	}
	for _, tok := range []xml.Token{action.End(), body.End(), envelope.End()} {
		if err := enc.EncodeToken(tok); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractTag returns the character data of the first element in doc
// whose local name matches, and whether such an element exists.
// Matching by local name keeps namespace prefixes (u:, upnp:, dc:)
// out of the caller's way.
func ExtractTag(doc []byte, local string) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != local {
			continue
		}
		var s string
		if err := dec.DecodeElement(&s, &se); err != nil {
			return "", false
		}
		return s, true
	}
}

// FaultError is a decoded SOAP fault body.
type FaultError struct {
	Code        string
	Description string
	// From the UPnPError detail element, when present.
	ErrorCode        int
	ErrorDescription string
}

func (e *FaultError) Error() string {
	if e.ErrorCode != 0 {
		return fmt.Sprintf("soap fault %s: UPnP error %d (%s)", e.Code, e.ErrorCode, e.ErrorDescription)
	}
	return fmt.Sprintf("soap fault %s: %s", e.Code, e.Description)
}

type faultDoc struct {
	XMLName xml.Name `xml:"Envelope"`
	Fault   *struct {
		Code       string `xml:"faultcode"`
		FaultState string `xml:"faultstring"`
		Detail     struct {
			UPnPError struct {
				Code        int    `xml:"errorCode"`
				Description string `xml:"errorDescription"`
			} `xml:"UPnPError"`
		} `xml:"detail"`
	} `xml:"Body>Fault"`
}

// ParseFault decodes a response body as a SOAP fault. It returns nil
// when the document is not a fault envelope.
func ParseFault(doc []byte) *FaultError {
	var f faultDoc
	if err := xml.Unmarshal(doc, &f); err != nil || f.Fault == nil {
		return nil
	}
	return &FaultError{
		Code:             f.Fault.Code,
		Description:      f.Fault.FaultState,
		ErrorCode:        f.Fault.Detail.UPnPError.Code,
		ErrorDescription: f.Fault.Detail.UPnPError.Description,
	}
}
