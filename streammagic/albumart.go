package streammagic

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"net/http"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/nfnt/resize"
)

// AlbumArtThumbnail fetches the current track's album art and returns
// it as a size x size PNG. Errors when the current source supplies no
// album art URI.
func (d *Device) AlbumArtThumbnail(size uint) ([]byte, error) {
	info, err := d.TrackInfo()
	if err != nil {
		return nil, err
	}
	uri := info.AlbumArtURI
	if uri == "" || uri == NotAvailable || uri == NotImplemented {
		return nil, fmt.Errorf("no album art for the current source")
	}
	resp, err := d.httpClient.Get(uri)
	if err != nil {
		return nil, fmt.Errorf("fetching album art: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching album art: unexpected status %s", resp.Status)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding album art: %w", err)
	}
	img = resize.Resize(size, size, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
