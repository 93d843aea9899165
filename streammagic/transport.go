package streammagic

import (
	"fmt"
	"strconv"

	"github.com/sebk-666/streammagic-go/soap"
)

// Transport states reported by AVTransport GetTransportInfo.
const (
	TransportPlaying       = "PLAYING"
	TransportPaused        = "PAUSED"
	TransportStopped       = "STOPPED"
	TransportTransitioning = "TRANSITIONING"
)

// Virtual remote keys understood by the UuVolSimpleRemote service.
const (
	keyPlayPause    = "PLAY_PAUSE"
	keySkipNext     = "SKIP_NEXT"
	keySkipPrevious = "SKIP_PREVIOUS"
)

var masterChannel = soap.Arg{Name: "Channel", Value: "Master"}

// MuteState reports whether the master channel is muted.
func (d *Device) MuteState() (bool, error) {
	raw, err := d.SendAction("GetMute", URNRenderingControl, 0, false, []soap.Arg{masterChannel})
	if err != nil {
		return false, err
	}
	switch v := tagValue(raw, "CurrentMute"); v {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("GetMute: unexpected CurrentMute value %q", v)
	}
}

// SetMute mutes or unmutes the master channel.
func (d *Device) SetMute(mute bool) error {
	desired := "0"
	if mute {
		desired = "1"
	}
	// Channel must precede DesiredMute; the device rejects the
	// reverse order.
	_, err := d.SendAction("SetMute", URNRenderingControl, 0, false, []soap.Arg{
		masterChannel,
		{Name: "DesiredMute", Value: desired},
	})
	return err
}

// Volume returns the current master channel volume.
func (d *Device) Volume() (int, error) {
	raw, err := d.SendAction("GetVolume", URNRenderingControl, 0, false, []soap.Arg{masterChannel})
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tagValue(raw, "CurrentVolume"))
	if err != nil {
		return 0, fmt.Errorf("GetVolume: %w", err)
	}
	return v, nil
}

// SetVolume sets the master channel volume. No bounds are enforced
// here; the device clamps to its own maximum.
func (d *Device) SetVolume(volume int) error {
	_, err := d.SendAction("SetVolume", URNRenderingControl, 0, false, []soap.Arg{
		masterChannel,
		{Name: "DesiredVolume", Value: strconv.Itoa(volume)},
	})
	return err
}

// VolumeMax returns the device's maximum volume step.
func (d *Device) VolumeMax() (int, error) {
	raw, err := d.SendAction("GetVolumeMax", URNRenderingControl, 0, false, nil)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tagValue(raw, "RetVolumeMaxValue"))
	if err != nil {
		return 0, fmt.Errorf("GetVolumeMax: %w", err)
	}
	return v, nil
}

// TransportState returns the current transport state, one of the
// Transport* constants.
func (d *Device) TransportState() (string, error) {
	raw, err := d.SendAction("GetTransportInfo", URNAVTransport, 0, false, nil)
	if err != nil {
		return "", err
	}
	return tagValue(raw, "CurrentTransportState"), nil
}

// Play starts playback. Invoking the native Play action while the
// device already plays, or on a stopped streaming source, yields a
// device fault, so playback is started via the remote's play/pause
// toggle and only when not already playing.
func (d *Device) Play() error {
	state, err := d.TransportState()
	if err != nil {
		return err
	}
	if state == TransportPlaying {
		return nil
	}
	return d.pressKey(keyPlayPause, 1)
}

// Pause pauses playback.
func (d *Device) Pause() error {
	_, err := d.SendAction("Pause", URNAVTransport, 0, false, nil)
	return err
}

// Stop stops playback.
func (d *Device) Stop() error {
	_, err := d.SendAction("Stop", URNAVTransport, 0, false, nil)
	return err
}

// Next skips to the next track. The native AVTransport Next action
// fails on this device family, so the remote key is pressed instead.
func (d *Device) Next() error {
	return d.pressKey(keySkipNext, 1)
}

// Previous skips backwards. One key press restarts the current track;
// the default double press reaches the prior one. Set skipToStart to
// press once.
func (d *Device) Previous(skipToStart bool) error {
	presses := 2
	if skipToStart {
		presses = 1
	}
	return d.pressKey(keySkipPrevious, presses)
}

func (d *Device) pressKey(key string, presses int) error {
	for i := 0; i < presses; i++ {
		_, err := d.SendAction("KeyPressed", URNUuVolSimpleRemote, 0, true, []soap.Arg{
			{Name: "Key", Value: key},
			{Name: "Duration", Value: "SHORT"},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
