//go:build linux

package keepalive

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

const (
	mprisPath        = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisRootIface   = "org.mpris.MediaPlayer2"
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"
)

type mediaPublisher struct {
	conn *dbus.Conn
	name string
}

// mprisRoot answers the mandatory root interface; there is no window to
// raise and quitting is left to the shell.
type mprisRoot struct{}

func (mprisRoot) Raise() *dbus.Error { return nil }
func (mprisRoot) Quit() *dbus.Error  { return nil }

// publishMedia registers an MPRIS player on the session bus so desktop
// media controls and lock screens show the recording with a stop button.
func publishMedia(ctx context.Context, md Metadata, actions mediaActions) (*mediaPublisher, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}

	name := fmt.Sprintf("%s.livescribe.instance%d", mprisRootIface, os.Getpid())
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", name)
	}

	if err := conn.Export(mprisRoot{}, mprisPath, mprisRootIface); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Export(actions, mprisPath, mprisPlayerIface); err != nil {
		conn.Close()
		return nil, err
	}

	props := prop.Map{
		mprisRootIface: {
			"CanQuit":             {Value: false, Emit: prop.EmitConst},
			"CanRaise":            {Value: false, Emit: prop.EmitConst},
			"HasTrackList":        {Value: false, Emit: prop.EmitConst},
			"Identity":            {Value: "livescribe", Emit: prop.EmitConst},
			"SupportedUriSchemes": {Value: []string{}, Emit: prop.EmitConst},
			"SupportedMimeTypes":  {Value: []string{}, Emit: prop.EmitConst},
		},
		mprisPlayerIface: {
			"PlaybackStatus": {Value: "Playing", Emit: prop.EmitTrue},
			"Metadata":       {Value: mprisMetadata(md), Emit: prop.EmitTrue},
			"CanControl":     {Value: true, Emit: prop.EmitConst},
			"CanPause":       {Value: true, Emit: prop.EmitConst},
			"CanPlay":        {Value: false, Emit: prop.EmitConst},
			"CanGoNext":      {Value: false, Emit: prop.EmitConst},
			"CanGoPrevious":  {Value: false, Emit: prop.EmitConst},
			"CanSeek":        {Value: false, Emit: prop.EmitConst},
		},
	}
	if _, err := prop.Export(conn, mprisPath, props); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export properties: %w", err)
	}
	return &mediaPublisher{conn: conn, name: name}, nil
}

func mprisMetadata(md Metadata) map[string]dbus.Variant {
	title := md.Title
	if title == "" {
		title = "Recording"
	}
	id := strings.NewReplacer("-", "_").Replace(md.RecordingID)
	if id == "" {
		id = "current"
	}
	return map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(dbus.ObjectPath("/org/livescribe/recording/" + id)),
		"xesam:title":   dbus.MakeVariant(title),
		"xesam:artist":  dbus.MakeVariant([]string{"livescribe"}),
	}
}

func (p *mediaPublisher) close() error {
	if _, err := p.conn.ReleaseName(p.name); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
