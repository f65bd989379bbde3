// Package bluez implements the link transport on top of BlueZ over the
// system D-Bus.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"github.com/mil-ad/mlsctl/internal/link"
)

const (
	busName       = "org.bluez"
	adapterIface  = "org.bluez.Adapter1"
	deviceIface   = "org.bluez.Device1"
	serviceIface  = "org.bluez.GattService1"
	charIface     = "org.bluez.GattCharacteristic1"
	propsIface    = "org.freedesktop.DBus.Properties"
	propsSignal   = propsIface + ".PropertiesChanged"
	objectManager = "org.freedesktop.DBus.ObjectManager"

	errInProgress = "org.bluez.Error.InProgress"
)

// Options configures a Client.
type Options struct {
	Adapter        string // e.g. "hci0"
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
}

// Client wraps a system D-Bus connection for BlueZ GATT operations and
// implements link.Transport.
type Client struct {
	conn        *dbus.Conn
	opts        Options
	adapterPath dbus.ObjectPath
	match       string
	signals     chan *dbus.Signal
	done        chan struct{}
	closeOnce   sync.Once

	mu      sync.Mutex
	onDown  map[dbus.ObjectPath]func()
	onValue map[dbus.ObjectPath]func([]byte)
}

var _ link.Transport = (*Client)(nil)

// New connects to the system bus, checks that BlueZ is present, powers the
// adapter on if needed and starts routing PropertiesChanged signals.
func New(opts Options) (*Client, error) {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	// Quick check that BlueZ is on the bus.
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, errors.New("org.bluez not found on system bus, is bluetooth.service running?")
	}

	c := &Client{
		conn:        conn,
		opts:        opts,
		adapterPath: dbus.ObjectPath("/org/bluez/" + opts.Adapter),
		match:       "type='signal',sender='" + busName + "',interface='" + propsIface + "',member='PropertiesChanged',path_namespace='/org/bluez'",
		signals:     make(chan *dbus.Signal, 64),
		done:        make(chan struct{}),
		onDown:      make(map[dbus.ObjectPath]func()),
		onValue:     make(map[dbus.ObjectPath]func([]byte)),
	}

	powered, err := getProperty[bool](conn, c.adapterPath, adapterIface, "Powered")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read adapter %s: %w", opts.Adapter, err)
	}
	if !powered {
		log.Info().Str("adapter", opts.Adapter).Msg("powering adapter on")
		if err := c.setProp(c.adapterPath, adapterIface, "Powered", true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("power on %s: %w", opts.Adapter, err)
		}
	}

	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, c.match).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("add signal match: %w", err)
	}
	conn.Signal(c.signals)
	go c.dispatch()
	return c, nil
}

// Close stops signal routing and closes the bus connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.RemoveSignal(c.signals)
		c.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, c.match)
		err = c.conn.Close()
	})
	return err
}

// Discover scans for LE peers and returns the strongest one whose name
// starts with namePrefix. Only peers heard during this scan, or already
// connected, are candidates. Discovery is stopped before returning.
func (c *Client) Discover(ctx context.Context, namePrefix string) (link.Device, error) {
	adapter := c.conn.Object(busName, c.adapterPath)
	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	if err := adapter.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		return nil, fmt.Errorf("set discovery filter: %w", err)
	}
	if err := adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil && !isDBusError(err, errInProgress) {
		return nil, fmt.Errorf("start discovery: %w", err)
	}
	defer adapter.Call(adapterIface+".StopDiscovery", 0)

	scanCtx, cancel := context.WithTimeout(ctx, c.opts.ScanTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-scanCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("no device named %q found within %v", namePrefix, c.opts.ScanTimeout)
		case <-ticker.C:
			if dev, ok := c.lookup(namePrefix); ok {
				return dev, nil
			}
		}
	}
}

func (c *Client) lookup(namePrefix string) (*Device, bool) {
	objects, err := c.managedObjects()
	if err != nil {
		log.Debug().Err(err).Msg("list managed objects")
		return nil, false
	}
	m, ok := matchDevice(objects, c.adapterPath, namePrefix)
	if !ok {
		return nil, false
	}
	log.Info().Str("device", m.name).Str("address", m.address).Int16("rssi", m.rssi).Msg("found device")
	return &Device{c: c, path: m.path, name: m.name, address: m.address}, true
}

func (c *Client) managedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := c.conn.Object(busName, "/").Call(objectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}
	return objects, nil
}

func (c *Client) setProp(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	obj := c.conn.Object(busName, path)
	return obj.Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

func (c *Client) handleDown(path dbus.ObjectPath, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.onDown, path)
		return
	}
	c.onDown[path] = fn
}

func (c *Client) handleValue(path dbus.ObjectPath, fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.onValue, path)
		return
	}
	c.onValue[path] = fn
}

// dispatch routes link-down and notification signals to the registered
// handlers, one at a time.
func (c *Client) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case sig, ok := <-c.signals:
			if !ok {
				return
			}
			ev, ok := parseSignal(sig)
			if !ok {
				continue
			}
			c.mu.Lock()
			down := c.onDown[ev.path]
			value := c.onValue[ev.path]
			c.mu.Unlock()

			switch {
			case ev.down && down != nil:
				log.Debug().Str("path", string(ev.path)).Msg("link down signal")
				down()
			case !ev.down && value != nil:
				value(ev.value)
			}
		}
	}
}

// signalEvent is the part of a PropertiesChanged signal the client acts on.
type signalEvent struct {
	path  dbus.ObjectPath
	down  bool
	value []byte
}

// parseSignal extracts Device1 Connected=false and GattCharacteristic1
// Value changes. Everything else is ignored.
func parseSignal(sig *dbus.Signal) (signalEvent, bool) {
	if sig == nil || sig.Name != propsSignal || len(sig.Body) < 2 {
		return signalEvent{}, false
	}
	iface, _ := sig.Body[0].(string)
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return signalEvent{}, false
	}

	switch iface {
	case deviceIface:
		v, ok := changed["Connected"]
		if !ok {
			return signalEvent{}, false
		}
		connected, ok := v.Value().(bool)
		if !ok || connected {
			return signalEvent{}, false
		}
		return signalEvent{path: sig.Path, down: true}, true
	case charIface:
		v, ok := changed["Value"]
		if !ok {
			return signalEvent{}, false
		}
		p, ok := v.Value().([]byte)
		if !ok {
			return signalEvent{}, false
		}
		return signalEvent{path: sig.Path, value: p}, true
	}
	return signalEvent{}, false
}

type deviceMatch struct {
	path      dbus.ObjectPath
	name      string
	address   string
	rssi      int16
	connected bool
}

// matchDevice picks the Device1 under adapter whose Name (or Alias) starts
// with prefix. Cached entries that are neither advertising (no RSSI) nor
// connected are skipped. A connected device wins, then the strongest signal.
func matchDevice(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, adapter dbus.ObjectPath, prefix string) (deviceMatch, bool) {
	var best deviceMatch
	found := false
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), string(adapter)+"/") {
			continue
		}
		name := stringProp(props, "Name")
		if name == "" {
			name = stringProp(props, "Alias")
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		addr := stringProp(props, "Address")
		if addr == "" {
			addr = macFromPath(adapter, path)
		}
		rssi, seen := props["RSSI"].Value().(int16)
		connected, _ := props["Connected"].Value().(bool)
		if !seen && !connected {
			continue
		}

		m := deviceMatch{path: path, name: name, address: addr, rssi: rssi, connected: connected}
		switch {
		case !found:
		case connected != best.connected:
			if !connected {
				continue
			}
		case rssi > best.rssi:
		case rssi == best.rssi && path < best.path:
		default:
			continue
		}
		best, found = m, true
	}
	return best, found
}

// findByUUID returns the object under parent implementing iface whose UUID
// matches uuid, ignoring case.
func findByUUID(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, parent dbus.ObjectPath, iface, uuid string) (dbus.ObjectPath, bool) {
	prefix := string(parent) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[iface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if strings.EqualFold(stringProp(props, "UUID"), uuid) {
			return path, true
		}
	}
	return "", false
}

func stringProp(props map[string]dbus.Variant, name string) string {
	v, ok := props[name]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

// macFromPath extracts a MAC address from a BlueZ device object path.
func macFromPath(adapter, path dbus.ObjectPath) string {
	s := string(path)
	prefix := string(adapter) + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	s = s[len(prefix):]
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "_", ":")
}

// getProperty reads a property from a BlueZ object.
func getProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, prop string) (T, error) {
	var zero T
	v, err := conn.Object(busName, path).GetProperty(iface + "." + prop)
	if err != nil {
		return zero, err
	}
	val, ok := v.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, prop, v.Value())
	}
	return val, nil
}

func isDBusError(err error, name string) bool {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name == name
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) {
		return pderr.Name == name
	}
	return false
}
