// Control point for Cambridge Audio StreamMagic network players.
//
// A Device is built from one discovery result and translates typed
// method calls into SOAP actions against the services the player
// advertises in its root description.
package streammagic

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/anacrolix/log"

	"github.com/sebk-666/streammagic-go/soap"
	"github.com/sebk-666/streammagic-go/ssdp"
	"github.com/sebk-666/streammagic-go/upnp"
)

// Service types the StreamMagic family advertises.
const (
	URNAVTransport       = "urn:schemas-upnp-org:service:AVTransport:1"
	URNRenderingControl  = "urn:schemas-upnp-org:service:RenderingControl:1"
	URNConnectionManager = "urn:schemas-upnp-org:service:ConnectionManager:1"
	URNUuVolControl      = "urn:UuVol-com:service:UuVolControl:5"
	URNUuVolSimpleRemote = "urn:UuVol-com:service:UuVolSimpleRemote:1"
)

const (
	// NotAvailable is returned for a tag absent from a device response.
	NotAvailable = "n/a"
	// NotImplemented fills track info fields the current audio source
	// cannot supply.
	NotImplemented = "NOT_IMPLEMENTED"
)

// Every network round trip, HTTP or SOAP, gets this single timeout.
const requestTimeout = 2 * time.Second

// ErrUnknownService means an action was invoked against a service type
// the device's root description never advertised.
var ErrUnknownService = errors.New("service type not registered on this device")

type endpoints struct {
	scpdURL    string
	controlURL string
}

// Device represents one StreamMagic player. Identity fields are fixed
// at construction; only the display name may change afterwards. Not
// safe for concurrent use.
type Device struct {
	Host        string
	Port        int
	Description string
	// Root description URL, from the discovery reply's location header.
	Location string
	Logger   log.Logger

	name       string
	httpClient *http.Client
	services   map[string]endpoints
	// serviceType -> action -> parameter. Populated once by
	// EnsureCapabilities and never invalidated.
	actions map[string]map[string]map[string]upnp.Argument
	power   PowerState
}

// New fetches and parses the root description at location, registers
// the advertised services, then queries and caches the power state.
// A failed root description fetch or parse fails construction; a
// failed power query leaves the cache at PowerStateUnknown.
func New(host string, port int, description, location string) (*Device, error) {
	d := &Device{
		Host:        host,
		Port:        port,
		Description: description,
		Location:    location,
		Logger:      log.Default.WithNames("streammagic", host),
		name:        "Unknown",
		httpClient:  &http.Client{Timeout: requestTimeout},
		services:    make(map[string]endpoints),
		power:       PowerStateUnknown,
	}
	if err := d.setup(); err != nil {
		return nil, err
	}
	if state, err := d.queryPowerState(); err != nil {
		d.Logger.Levelf(log.Debug, "initial power state query: %v", err)
	} else {
		d.power = state
	}
	return d, nil
}

// NewFromDiscovery builds a Device from an SSDP discovery reply.
func NewFromDiscovery(dev ssdp.Device) (*Device, error) {
	if dev.Location() == "" {
		return nil, fmt.Errorf("discovery reply from %s has no location header", dev.Addr)
	}
	return New(dev.Addr.IP.String(), dev.Addr.Port, dev.Server(), dev.Location())
}

func (d *Device) setup() error {
	loc, err := url.Parse(d.Location)
	if err != nil {
		return fmt.Errorf("parsing root description URL: %w", err)
	}
	doc, err := d.fetchDoc(d.Location)
	if err != nil {
		return err
	}
	root, err := upnp.ParseRootDescription(doc, loc)
	if err != nil {
		return err
	}
	if root.FriendlyName != "" {
		d.name = root.FriendlyName
	}
	for _, svc := range root.Services {
		d.services[svc.ServiceType] = endpoints{
			scpdURL:    svc.SCPDURL,
			controlURL: svc.ControlURL,
		}
	}
	return nil
}

// Name returns the device's display name, the root description's
// friendly name unless overridden.
func (d *Device) Name() string { return d.name }

// SetName overrides the display name.
func (d *Device) SetName(name string) { d.name = name }

func (d *Device) fetchDoc(docURL string) ([]byte, error) {
	resp, err := d.httpClient.Get(docURL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", docURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", docURL, resp.Status)
	}
	doc, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", docURL, err)
	}
	return doc, nil
}

// EnsureCapabilities fetches every registered service's SCPD document
// and builds the action catalog. Idempotent: once populated the
// catalog is never refreshed, even if the device's service set changes.
func (d *Device) EnsureCapabilities() error {
	if len(d.actions) > 0 {
		return nil
	}
	catalog := make(map[string]map[string]map[string]upnp.Argument, len(d.services))
	for svcType, ep := range d.services {
		doc, err := d.fetchDoc(ep.scpdURL)
		if err != nil {
			return err
		}
		scpd, err := upnp.ParseSCPD(doc)
		if err != nil {
			return fmt.Errorf("%s: %w", svcType, err)
		}
		byAction := make(map[string]map[string]upnp.Argument, len(scpd.Actions))
		for _, action := range scpd.Actions {
			params := make(map[string]upnp.Argument, len(action.Arguments))
			for _, arg := range action.Arguments {
				params[arg.Name] = arg
			}
			byAction[action.Name] = params
		}
		catalog[svcType] = byAction
	}
	d.actions = catalog
	d.Logger.Levelf(log.Debug, "action catalog built for %d services", len(catalog))
	return nil
}

// ListServices returns the service types in the action catalog, sorted.
// With forceInit, an empty catalog is populated first.
func (d *Device) ListServices(forceInit bool) ([]string, error) {
	if len(d.actions) == 0 && forceInit {
		if err := d.EnsureCapabilities(); err != nil {
			return nil, err
		}
	}
	services := make([]string, 0, len(d.actions))
	for svcType := range d.actions {
		services = append(services, svcType)
	}
	sort.Strings(services)
	return services, nil
}

// Actions returns the action names a service declares, sorted.
func (d *Device) Actions(serviceType string) ([]string, error) {
	byAction, ok := d.actions[serviceType]
	if !ok {
		return nil, fmt.Errorf("%s: %w", serviceType, ErrUnknownService)
	}
	actions := make([]string, 0, len(byAction))
	for name := range byAction {
		actions = append(actions, name)
	}
	sort.Strings(actions)
	return actions, nil
}

// ActionParameters returns the parameter names an action declares,
// sorted.
func (d *Device) ActionParameters(serviceType, action string) ([]string, error) {
	byAction, ok := d.actions[serviceType]
	if !ok {
		return nil, fmt.Errorf("%s: %w", serviceType, ErrUnknownService)
	}
	params, ok := byAction[action]
	if !ok {
		return nil, fmt.Errorf("action %s not declared by %s", action, serviceType)
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ParameterInfo returns the declared direction and related state
// variable of one action parameter.
func (d *Device) ParameterInfo(serviceType, action, parameter string) (upnp.Argument, error) {
	byAction, ok := d.actions[serviceType]
	if !ok {
		return upnp.Argument{}, fmt.Errorf("%s: %w", serviceType, ErrUnknownService)
	}
	params, ok := byAction[action]
	if !ok {
		return upnp.Argument{}, fmt.Errorf("action %s not declared by %s", action, serviceType)
	}
	arg, ok := params[parameter]
	if !ok {
		return upnp.Argument{}, fmt.Errorf("parameter %s not declared by %s#%s", parameter, serviceType, action)
	}
	return arg, nil
}

// SendAction invokes action on serviceType's control URL. Unless
// omitInstanceID is set, an InstanceID tag precedes args; args are
// emitted in slice order, which some actions require. A SOAP fault in
// the response surfaces as a *soap.FaultError.
func (d *Device) SendAction(action, serviceType string, instanceID int, omitInstanceID bool, args []soap.Arg) ([]byte, error) {
	ep, ok := d.services[serviceType]
	if !ok {
		return nil, fmt.Errorf("%s: %w", serviceType, ErrUnknownService)
	}
	req := soap.Request{Action: action, ServiceType: serviceType}
	if !omitInstanceID {
		req.Args = append(req.Args, soap.Arg{Name: "InstanceID", Value: strconv.Itoa(instanceID)})
	}
	req.Args = append(req.Args, args...)
	body, err := req.Encode()
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, ep.controlURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("SOAPACTION", req.SOAPAction())
	httpReq.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	httpReq.Header.Set("Accept", "*/*")
	httpReq.ContentLength = int64(len(body))

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", action, err)
	}
	if fault := soap.ParseFault(raw); fault != nil {
		return nil, fmt.Errorf("%s: %w", action, fault)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", action, resp.Status)
	}
	d.Logger.Levelf(log.Debug, "%s on %s: %d response bytes", action, serviceType, len(raw))
	return raw, nil
}

// tagValue reads one tag from a SOAP response, mapping absence to the
// NotAvailable sentinel.
func tagValue(doc []byte, tag string) string {
	v, ok := soap.ExtractTag(doc, tag)
	if !ok {
		return NotAvailable
	}
	return v
}
