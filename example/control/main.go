// Discovers the first StreamMagic player on the local network and
// prints its capabilities and playback status.
package main

import (
	"flag"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sebk-666/streammagic-go/ssdp"
	"github.com/sebk-666/streammagic-go/streammagic"
)

func main() {
	host := flag.String("host", "", "restrict discovery to this IP address")
	timeout := flag.Duration("timeout", 2*time.Second, "discovery reply window")
	flag.Parse()

	disco := &ssdp.Discovery{Timeout: *timeout}
	found, err := disco.Discover(*host)
	if err != nil {
		log.Fatalf("discovery failed: %v", err)
	}
	if len(found) == 0 {
		log.Fatal("no StreamMagic devices replied")
	}

	dev, err := streammagic.NewFromDiscovery(found[0])
	if err != nil {
		log.Fatalf("initializing device: %v", err)
	}
	log.Infof("connected to %q (%s) at %s:%d", dev.Name(), dev.Description, dev.Host, dev.Port)

	services, err := dev.ListServices(true)
	if err != nil {
		log.Fatalf("listing services: %v", err)
	}
	for _, svc := range services {
		actions, _ := dev.Actions(svc)
		log.Infof("service %s: %d actions", svc, len(actions))
	}

	power := dev.CachedPowerState()
	log.Infof("power state: %s", power)
	if power != streammagic.PowerStateOn {
		return
	}

	if state, err := dev.TransportState(); err == nil {
		log.Infof("transport state: %s", state)
	}
	if src, err := dev.AudioSource(); err == nil {
		log.Infof("audio source: %s", src)
	}

	if details, ok, err := dev.PlaybackDetails(); err != nil {
		log.Warnf("playback details: %v", err)
	} else if ok {
		log.Infof("now playing: %s on %s (%s)", details.Artist, details.Stream, details.Format.Codec)
	}

	if presets, err := dev.PresetList(); err == nil {
		for _, p := range presets {
			marker := " "
			if p.IsPlaying {
				marker = "*"
			}
			log.Infof("%s preset %2d: %s", marker, p.Number, p.Name)
		}
	}
}
