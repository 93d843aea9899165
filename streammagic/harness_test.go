package streammagic

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakePlayer emulates a StreamMagic device: root description, SCPD
// documents, and a SOAP control endpoint with canned per-action
// responses.
type fakePlayer struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	responses map[string]string // action -> inner response XML
	calls     []soapCall
}

type soapCall struct {
	action string
	body   string
}

const rootDescXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <friendlyName>Living Room 851N</friendlyName>
    <modelName>851N</modelName>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
        <controlURL>/ctl</controlURL>
        <SCPDURL>/scpd/AVTransport.xml</SCPDURL>
      </service>
      <service>
        <serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
        <controlURL>/ctl</controlURL>
        <SCPDURL>/scpd/RenderingControl.xml</SCPDURL>
      </service>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
        <controlURL>/ctl</controlURL>
        <SCPDURL>/scpd/ConnectionManager.xml</SCPDURL>
      </service>
      <service>
        <serviceType>urn:UuVol-com:service:UuVolControl:5</serviceType>
        <serviceId>urn:UuVol-com:serviceId:UuVolControl</serviceId>
        <controlURL>/ctl</controlURL>
        <SCPDURL>/scpd/UuVolControl.xml</SCPDURL>
      </service>
      <service>
        <serviceType>urn:UuVol-com:service:UuVolSimpleRemote:1</serviceType>
        <serviceId>urn:UuVol-com:serviceId:UuVolSimpleRemote</serviceId>
        <controlURL>/ctl</controlURL>
        <SCPDURL>/scpd/UuVolSimpleRemote.xml</SCPDURL>
      </service>
    </serviceList>
  </device>
</root>`

var scpdDocs = map[string]string{
	"/scpd/AVTransport.xml": `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action>
      <name>Play</name>
      <argumentList>
        <argument><name>InstanceID</name><direction>in</direction><relatedStateVariable>A_ARG_TYPE_InstanceID</relatedStateVariable></argument>
        <argument><name>Speed</name><direction>in</direction><relatedStateVariable>TransportPlaySpeed</relatedStateVariable></argument>
      </argumentList>
    </action>
    <action>
      <name>GetTransportInfo</name>
      <argumentList>
        <argument><name>CurrentTransportState</name><direction>out</direction><relatedStateVariable>TransportState</relatedStateVariable></argument>
      </argumentList>
    </action>
  </actionList>
</scpd>`,
	"/scpd/RenderingControl.xml": `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action>
      <name>GetMute</name>
      <argumentList>
        <argument><name>InstanceID</name><direction>in</direction><relatedStateVariable>A_ARG_TYPE_InstanceID</relatedStateVariable></argument>
        <argument><name>Channel</name><direction>in</direction><relatedStateVariable>A_ARG_TYPE_Channel</relatedStateVariable></argument>
        <argument><name>CurrentMute</name><direction>out</direction><relatedStateVariable>Mute</relatedStateVariable></argument>
      </argumentList>
    </action>
  </actionList>
</scpd>`,
	"/scpd/ConnectionManager.xml": `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action>
      <name>GetProtocolInfo</name>
      <argumentList>
        <argument><name>Sink</name><direction>out</direction><relatedStateVariable>SinkProtocolInfo</relatedStateVariable></argument>
      </argumentList>
    </action>
  </actionList>
</scpd>`,
	"/scpd/UuVolControl.xml": `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action>
      <name>GetPowerState</name>
      <argumentList>
        <argument><name>RetPowerStateValue</name><direction>out</direction><relatedStateVariable>PowerState</relatedStateVariable></argument>
      </argumentList>
    </action>
  </actionList>
</scpd>`,
	"/scpd/UuVolSimpleRemote.xml": `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action>
      <name>KeyPressed</name>
      <argumentList>
        <argument><name>Key</name><direction>in</direction><relatedStateVariable>A_ARG_TYPE_Key</relatedStateVariable></argument>
        <argument><name>Duration</name><direction>in</direction><relatedStateVariable>A_ARG_TYPE_Duration</relatedStateVariable></argument>
      </argumentList>
    </action>
  </actionList>
</scpd>`,
}

func newFakePlayer(t *testing.T) *fakePlayer {
	f := &fakePlayer{
		t: t,
		responses: map[string]string{
			"GetPowerState": "<RetPowerStateValue>ON</RetPowerStateValue>",
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/description.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		io.WriteString(w, rootDescXML)
	})
	mux.HandleFunc("/scpd/", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := scpdDocs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		io.WriteString(w, doc)
	})
	mux.HandleFunc("/ctl", f.control)
	mux.HandleFunc("/art.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		png.Encode(w, img)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

const faultXML = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>401</errorCode>
          <errorDescription>Invalid Action</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`

func (f *fakePlayer) control(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	soapAction := strings.Trim(r.Header.Get("SOAPACTION"), `"`)
	serviceType, action, _ := strings.Cut(soapAction, "#")

	f.mu.Lock()
	f.calls = append(f.calls, soapCall{action: action, body: string(body)})
	inner, ok := f.responses[action]
	f.mu.Unlock()

	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, faultXML)
		return
	}
	fmt.Fprintf(w, `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:%sResponse xmlns:u="%s">%s</u:%sResponse>
  </s:Body>
</s:Envelope>`, action, serviceType, inner, action)
}

func (f *fakePlayer) respond(action, inner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[action] = inner
}

func (f *fakePlayer) refuse(action string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.responses, action)
}

func (f *fakePlayer) actionCalls(action string) []soapCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []soapCall
	for _, c := range f.calls {
		if c.action == action {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakePlayer) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.action
	}
	return out
}

func (f *fakePlayer) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func newTestDevice(t *testing.T, f *fakePlayer) *Device {
	u, err := url.Parse(f.srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	d, err := New(host, port, "StreamMagic6/1.0 UPnP/1.0", f.srv.URL+"/description.xml")
	require.NoError(t, err)
	return d
}

// xmlEscape embeds one XML document inside a response tag the way the
// device does.
func xmlEscape(t *testing.T, s string) string {
	var buf bytes.Buffer
	require.NoError(t, xml.EscapeText(&buf, []byte(s)))
	return buf.String()
}
