package streammagic

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/anacrolix/log"

	"github.com/sebk-666/streammagic-go/soap"
	"github.com/sebk-666/streammagic-go/upnp"
)

// PowerState is the device's power state as reported by the vendor
// control service.
type PowerState string

const (
	PowerStateOn      PowerState = "on"
	PowerStateOff     PowerState = "off"
	PowerStateIdle    PowerState = "idle"
	PowerStateUnknown PowerState = "unknown"
)

// AudioSource returns the currently selected audio source, lowercased
// ("internet radio", "media player", or "other" when used as a DAC).
func (d *Device) AudioSource() (string, error) {
	raw, err := d.SendAction("GetAudioSource", URNUuVolControl, 0, false, nil)
	if err != nil {
		return "", err
	}
	return strings.ToLower(tagValue(raw, "RetAudioSourceValue")), nil
}

// PowerState queries the device's power state and refreshes the local
// cache.
func (d *Device) PowerState() (PowerState, error) {
	state, err := d.queryPowerState()
	if err != nil {
		return PowerStateUnknown, err
	}
	d.power = state
	return state, nil
}

// CachedPowerState returns the locally cached power state without a
// device round trip.
func (d *Device) CachedPowerState() PowerState { return d.power }

func (d *Device) queryPowerState() (PowerState, error) {
	raw, err := d.SendAction("GetPowerState", URNUuVolControl, 0, false, nil)
	if err != nil {
		return PowerStateUnknown, err
	}
	switch strings.ToLower(tagValue(raw, "RetPowerStateValue")) {
	case "on":
		return PowerStateOn, nil
	case "off":
		return PowerStateOff, nil
	case "idle":
		return PowerStateIdle, nil
	default:
		return PowerStateUnknown, nil
	}
}

// PowerOn wakes the device and updates the cached power state.
func (d *Device) PowerOn() error {
	if err := d.setPowerState("ON"); err != nil {
		return err
	}
	d.power = PowerStateOn
	return nil
}

// PowerOff transitions the device to PowerStateOff or PowerStateIdle.
// Any other target is a no-op.
func (d *Device) PowerOff(target PowerState) error {
	var value string
	switch target {
	case PowerStateOff:
		value = "OFF"
	case PowerStateIdle:
		value = "IDLE"
	default:
		return nil
	}
	if err := d.setPowerState(value); err != nil {
		return err
	}
	d.power = target
	return nil
}

func (d *Device) setPowerState(value string) error {
	_, err := d.SendAction("SetPowerState", URNUuVolControl, 0, true, []soap.Arg{
		{Name: "NewPowerStateValue", Value: value},
	})
	return err
}

// TrackInfo is metadata for the currently playing track. Fields the
// current audio source cannot supply hold NotImplemented; fields the
// device omitted hold NotAvailable.
type TrackInfo struct {
	Artist      string
	TrackTitle  string
	AlbumArtURI string
	Genre       string
	OrigTrackNo string
	Album       string
}

// TrackInfo returns metadata for the current track. Only the media
// player source exposes DIDL metadata; on every other source all six
// fields hold NotImplemented, a degraded-mode response rather than an
// error. Internet radio callers want PlaybackDetails instead.
func (d *Device) TrackInfo() (TrackInfo, error) {
	src, err := d.AudioSource()
	if err != nil {
		return TrackInfo{}, err
	}
	if src != "media player" {
		return TrackInfo{
			Artist:      NotImplemented,
			TrackTitle:  NotImplemented,
			AlbumArtURI: NotImplemented,
			Genre:       NotImplemented,
			OrigTrackNo: NotImplemented,
			Album:       NotImplemented,
		}, nil
	}
	meta, err := d.positionInfo()
	if err != nil {
		return TrackInfo{}, err
	}
	didl := []byte(meta)
	return TrackInfo{
		Artist:      tagValue(didl, "artist"),
		TrackTitle:  tagValue(didl, "title"),
		AlbumArtURI: tagValue(didl, "albumArtURI"),
		Genre:       tagValue(didl, "genre"),
		OrigTrackNo: tagValue(didl, "originalTrackNumber"),
		Album:       tagValue(didl, "album"),
	}, nil
}

// positionInfo returns the DIDL document carried in GetPositionInfo's
// TrackMetaData tag.
func (d *Device) positionInfo() (string, error) {
	raw, err := d.SendAction("GetPositionInfo", URNAVTransport, 0, false, nil)
	if err != nil {
		return "", err
	}
	meta, ok := soap.ExtractTag(raw, "TrackMetaData")
	if !ok {
		return "", upnp.MissingTagError{Doc: "GetPositionInfo response", Tag: "TrackMetaData"}
	}
	return meta, nil
}

// ProtocolInfo lists the formats the renderer accepts, e.g.
// "http-get:*:audio/flac:*".
func (d *Device) ProtocolInfo() ([]string, error) {
	raw, err := d.SendAction("GetProtocolInfo", URNConnectionManager, 0, true, nil)
	if err != nil {
		return nil, err
	}
	sink, ok := soap.ExtractTag(raw, "Sink")
	if !ok {
		return nil, upnp.MissingTagError{Doc: "GetProtocolInfo response", Tag: "Sink"}
	}
	return strings.Split(sink, ","), nil
}

// SetAVTransportURI points playback at a media or playlist URI.
func (d *Device) SetAVTransportURI(uri string) error {
	_, err := d.SendAction("SetAVTransportURI", URNAVTransport, 0, false, []soap.Arg{
		{Name: "CurrentURI", Value: uri},
		{Name: "CurrentURIMetaData", Value: ""},
	})
	return err
}

// Preset is one internet radio station preset.
type Preset struct {
	Number    int
	Name      string
	IsPlaying bool
}

func (d *Device) numberOfPresets() (int, error) {
	raw, err := d.SendAction("GetNumberOfPresets", URNUuVolControl, 0, false, nil)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tagValue(raw, "RetNumberOfPresetsValue"))
	if err != nil {
		return 0, fmt.Errorf("GetNumberOfPresets: %w", err)
	}
	return n, nil
}

// PresetList queries the preset count, fetches that range, and parses
// each preset's number, station name, and playing flag.
func (d *Device) PresetList() ([]Preset, error) {
	count, err := d.numberOfPresets()
	if err != nil {
		return nil, err
	}
	raw, err := d.SendAction("GetPresetList", URNUuVolControl, 0, true, []soap.Arg{
		{Name: "Start", Value: "1"},
		{Name: "End", Value: strconv.Itoa(count)},
	})
	if err != nil {
		return nil, err
	}
	listXML, ok := soap.ExtractTag(raw, "RetPresetListXML")
	if !ok {
		return nil, upnp.MissingTagError{Doc: "GetPresetList response", Tag: "RetPresetListXML"}
	}
	return parsePresetList([]byte(listXML))
}

type presetEntry struct {
	ID        string  `xml:"id,attr"`
	IsPlaying *string `xml:"isPlaying,attr"`
	Title     string  `xml:"title"`
}

func parsePresetList(doc []byte) ([]Preset, error) {
	var presets []Preset
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "preset" {
			continue
		}
		var entry presetEntry
		if err := dec.DecodeElement(&entry, &se); err != nil {
			return nil, fmt.Errorf("parsing preset list: %w", err)
		}
		num, err := strconv.Atoi(entry.ID)
		if err != nil {
			return nil, fmt.Errorf("parsing preset id %q: %w", entry.ID, err)
		}
		presets = append(presets, Preset{
			Number:    num,
			Name:      entry.Title,
			IsPlaying: entry.IsPlaying != nil,
		})
	}
	return presets, nil
}

// CurrentPreset scans the preset list for the playing entry. ok is
// false when no preset is playing.
func (d *Device) CurrentPreset() (preset Preset, ok bool, err error) {
	presets, err := d.PresetList()
	if err != nil {
		return Preset{}, false, err
	}
	for _, p := range presets {
		if p.IsPlaying {
			return p, true, nil
		}
	}
	return Preset{}, false, nil
}

// PlayPreset starts the numbered preset. Fire-and-forget: the device
// acknowledges without a result value.
func (d *Device) PlayPreset(num int) error {
	_, err := d.SendAction("PlayPreset", URNUuVolControl, 0, true, []soap.Arg{
		{Name: "NewPresetNumberValue", Value: strconv.Itoa(num)},
	})
	return err
}

// StreamFormat mirrors the format element's attributes in a
// playback-details document.
type StreamFormat struct {
	Codec      string `xml:"codec,attr"`
	SampleRate string `xml:"sample-rate,attr"`
	BitRate    string `xml:"bit-rate,attr"`
	BitDepth   string `xml:"bit-depth,attr"`
	VBR        string `xml:"vbr,attr"`
}

// PlaybackDetails describes the currently playing stream.
type PlaybackDetails struct {
	State  string
	Format StreamFormat
	Artist string
	Stream string
}

type playbackDoc struct {
	XMLName xml.Name      `xml:"playback-details"`
	State   *string       `xml:"state"`
	Format  *StreamFormat `xml:"format"`
	Artist  *string       `xml:"artist"`
	Stream  *struct {
		Title *string `xml:"title"`
	} `xml:"stream"`
}

// Navigator sessions: the vendor playback queries demand a registered
// navigator handle, valid for one logical operation.

func (d *Device) registerNavigator() (string, error) {
	raw, err := d.SendAction("RegisterNavigator", URNUuVolControl, 0, false, nil)
	if err != nil {
		return "", err
	}
	id, ok := soap.ExtractTag(raw, "RetNavigatorId")
	if !ok {
		return "", upnp.MissingTagError{Doc: "RegisterNavigator response", Tag: "RetNavigatorId"}
	}
	return id, nil
}

func (d *Device) navigatorRegistered(id string) bool {
	raw, err := d.SendAction("IsRegisteredNavigatorId", URNUuVolControl, 0, true, []soap.Arg{
		{Name: "NavigatorId", Value: id},
	})
	if err != nil {
		return false
	}
	v, _ := soap.ExtractTag(raw, "IsRegistered")
	return v == "1" || strings.EqualFold(v, "true")
}

func (d *Device) releaseNavigator(id string) {
	if _, err := d.SendAction("ReleaseNavigator", URNUuVolControl, 0, true, []soap.Arg{
		{Name: "NavigatorId", Value: id},
	}); err != nil {
		d.Logger.Levelf(log.Debug, "releasing navigator %s: %v", id, err)
	}
}

// PlaybackDetails returns details of the current stream. ok is false
// when the cached power state is not on: the device rejects playback
// queries in other power states, so none is attempted. While the
// transport is TRANSITIONING the device is mid source switch and would
// fault, so an all-empty result with ok true is returned instead.
// Otherwise a navigator handle is registered, the query issued against
// it, and the handle released again if still registered.
func (d *Device) PlaybackDetails() (details PlaybackDetails, ok bool, err error) {
	if d.power != PowerStateOn {
		return PlaybackDetails{}, false, nil
	}
	state, err := d.TransportState()
	if err != nil {
		return PlaybackDetails{}, false, err
	}
	if state == TransportTransitioning {
		return PlaybackDetails{}, true, nil
	}
	nid, err := d.registerNavigator()
	if err != nil {
		return PlaybackDetails{}, false, err
	}
	raw, err := d.SendAction("GetPlaybackDetails", URNUuVolControl, 0, true, []soap.Arg{
		{Name: "NavigatorId", Value: nid},
	})
	if d.navigatorRegistered(nid) {
		d.releaseNavigator(nid)
	}
	if err != nil {
		return PlaybackDetails{}, false, err
	}
	detailsXML, ok := soap.ExtractTag(raw, "RetPlaybackXML")
	if !ok {
		return PlaybackDetails{}, false, upnp.MissingTagError{Doc: "GetPlaybackDetails response", Tag: "RetPlaybackXML"}
	}
	parsed, err := parsePlaybackDetails([]byte(detailsXML))
	if err != nil {
		return PlaybackDetails{}, false, err
	}
	return parsed, true, nil
}

func parsePlaybackDetails(doc []byte) (PlaybackDetails, error) {
	const docName = "playback-details"
	var pd playbackDoc
	if err := xml.Unmarshal(doc, &pd); err != nil {
		return PlaybackDetails{}, fmt.Errorf("parsing %s: %w", docName, err)
	}
	switch {
	case pd.State == nil:
		return PlaybackDetails{}, upnp.MissingTagError{Doc: docName, Tag: "state"}
	case pd.Format == nil:
		return PlaybackDetails{}, upnp.MissingTagError{Doc: docName, Tag: "format"}
	case pd.Artist == nil:
		return PlaybackDetails{}, upnp.MissingTagError{Doc: docName, Tag: "artist"}
	case pd.Stream == nil || pd.Stream.Title == nil:
		return PlaybackDetails{}, upnp.MissingTagError{Doc: docName, Tag: "stream"}
	}
	return PlaybackDetails{
		State:  *pd.State,
		Format: *pd.Format,
		Artist: *pd.Artist,
		Stream: *pd.Stream.Title,
	}, nil
}
