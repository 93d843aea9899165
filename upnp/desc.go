// UPnP description documents: the device root description and the
// per-service SCPD.
package upnp

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// MissingTagError reports an expected element absent from a device
// document.
type MissingTagError struct {
	Doc string
	Tag string
}

func (e MissingTagError) Error() string {
	return fmt.Sprintf("%s: missing <%s> element", e.Doc, e.Tag)
}

// Service is one service entry from the root description. URLs are
// absolute after parsing.
type Service struct {
	ServiceType string `xml:"serviceType"`
	ServiceId   string `xml:"serviceId"`
	ControlURL  string `xml:"controlURL"`
	SCPDURL     string `xml:"SCPDURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// RootDescription is the parsed device root description.
type RootDescription struct {
	FriendlyName string
	ModelName    string
	Services     []Service
}

type rootDoc struct {
	XMLName xml.Name `xml:"root"`
	URLBase string   `xml:"URLBase"`
	// Some firmware revisions emit the tag with a lowercase u.
	URLBaseAlt string `xml:"urlBase"`
	Device     struct {
		FriendlyName string    `xml:"friendlyName"`
		ModelName    string    `xml:"modelName"`
		Services     []Service `xml:"serviceList>service"`
	} `xml:"device"`
}

// ParseRootDescription decodes a root description document fetched
// from location. Relative control and SCPD URLs resolve against the
// document's URLBase, or against location's scheme://host when no
// URLBase is declared.
func ParseRootDescription(doc []byte, location *url.URL) (*RootDescription, error) {
	const docName = "root description"
	var root rootDoc
	if err := xml.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", docName, err)
	}
	base := &url.URL{Scheme: location.Scheme, Host: location.Host}
	if declared := root.URLBase; declared != "" || root.URLBaseAlt != "" {
		if declared == "" {
			declared = root.URLBaseAlt
		}
		u, err := url.Parse(strings.TrimRight(declared, "/"))
		if err != nil {
			return nil, fmt.Errorf("parsing %s URLBase: %w", docName, err)
		}
		base = u
	}
	if len(root.Device.Services) == 0 {
		return nil, MissingTagError{Doc: docName, Tag: "service"}
	}
	rd := &RootDescription{
		FriendlyName: root.Device.FriendlyName,
		ModelName:    root.Device.ModelName,
	}
	for _, svc := range root.Device.Services {
		switch {
		case svc.ServiceType == "":
			return nil, MissingTagError{Doc: docName, Tag: "serviceType"}
		case svc.ControlURL == "":
			return nil, MissingTagError{Doc: docName, Tag: "controlURL"}
		case svc.SCPDURL == "":
			return nil, MissingTagError{Doc: docName, Tag: "SCPDURL"}
		}
		var err error
		if svc.ControlURL, err = resolve(base, svc.ControlURL); err != nil {
			return nil, fmt.Errorf("%s: controlURL for %s: %w", docName, svc.ServiceType, err)
		}
		if svc.SCPDURL, err = resolve(base, svc.SCPDURL); err != nil {
			return nil, fmt.Errorf("%s: SCPDURL for %s: %w", docName, svc.ServiceType, err)
		}
		rd.Services = append(rd.Services, svc)
	}
	return rd, nil
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// Argument is one parameter of an SCPD action.
type Argument struct {
	Name                 string `xml:"name"`
	Direction            string `xml:"direction"`
	RelatedStateVariable string `xml:"relatedStateVariable"`
	// The data type lives in the SCPD state variable table, which this
	// client does not resolve.
	DataType string `xml:"-"`
}

// Action is one action declared by an SCPD document.
type Action struct {
	Name      string     `xml:"name"`
	Arguments []Argument `xml:"argumentList>argument"`
}

// SCPD is a parsed Service Control Point Definition.
type SCPD struct {
	XMLName xml.Name `xml:"scpd"`
	Actions []Action `xml:"actionList>action"`
}

// ParseSCPD decodes a per-service SCPD document.
func ParseSCPD(doc []byte) (*SCPD, error) {
	const docName = "scpd"
	var scpd SCPD
	if err := xml.Unmarshal(doc, &scpd); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", docName, err)
	}
	for _, a := range scpd.Actions {
		if a.Name == "" {
			return nil, MissingTagError{Doc: docName, Tag: "name"}
		}
		for _, arg := range a.Arguments {
			if arg.Name == "" {
				return nil, MissingTagError{Doc: docName, Tag: "name"}
			}
		}
	}
	return &scpd, nil
}
