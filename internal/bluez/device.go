package bluez

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"github.com/mil-ad/mlsctl/internal/link"
)

var (
	_ link.Device         = (*Device)(nil)
	_ link.Service        = (*service)(nil)
	_ link.Characteristic = (*characteristic)(nil)
)

// Device is a peer known to BlueZ.
type Device struct {
	c       *Client
	path    dbus.ObjectPath
	name    string
	address string
}

func (d *Device) Name() string    { return d.name }
func (d *Device) Address() string { return d.address }

// Connected reports the Device1 Connected property. Read errors count as
// not connected.
func (d *Device) Connected() bool {
	connected, err := getProperty[bool](d.c.conn, d.path, deviceIface, "Connected")
	return err == nil && connected
}

// Connect brings the link up and waits for GATT service discovery.
func (d *Device) Connect(ctx context.Context) error {
	if !d.Connected() {
		connectCtx, cancel := context.WithTimeout(ctx, d.c.opts.ConnectTimeout)
		defer cancel()
		obj := d.c.conn.Object(busName, d.path)
		if err := obj.CallWithContext(connectCtx, deviceIface+".Connect", 0).Err; err != nil {
			return fmt.Errorf("connect %s: %w", d.address, err)
		}
	}
	return d.waitServicesResolved(ctx)
}

func (d *Device) waitServicesResolved(ctx context.Context) error {
	deadline := time.NewTimer(d.c.opts.ConnectTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		resolved, err := getProperty[bool](d.c.conn, d.path, deviceIface, "ServicesResolved")
		if err == nil && resolved {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("service discovery on %s timed out after %v", d.address, d.c.opts.ConnectTimeout)
		case <-ticker.C:
		}
	}
}

// Disconnect drops the link.
func (d *Device) Disconnect() error {
	obj := d.c.conn.Object(busName, d.path)
	if err := obj.Call(deviceIface+".Disconnect", 0).Err; err != nil {
		return fmt.Errorf("disconnect %s: %w", d.address, err)
	}
	return nil
}

// Service resolves a primary service of the device by UUID.
func (d *Device) Service(ctx context.Context, uuid string) (link.Service, error) {
	objects, err := d.c.managedObjects()
	if err != nil {
		return nil, err
	}
	path, ok := findByUUID(objects, d.path, serviceIface, uuid)
	if !ok {
		return nil, fmt.Errorf("service %s not found on %s", uuid, d.address)
	}
	return &service{c: d.c, path: path}, nil
}

// OnDisconnect runs fn whenever BlueZ reports Connected=false for the device.
func (d *Device) OnDisconnect(fn func()) {
	d.c.handleDown(d.path, fn)
}

type service struct {
	c    *Client
	path dbus.ObjectPath
}

func (s *service) Characteristic(ctx context.Context, uuid string) (link.Characteristic, error) {
	objects, err := s.c.managedObjects()
	if err != nil {
		return nil, err
	}
	path, ok := findByUUID(objects, s.path, charIface, uuid)
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found", uuid)
	}
	return &characteristic{c: s.c, path: path}, nil
}

type characteristic struct {
	c    *Client
	path dbus.ObjectPath
}

func (ch *characteristic) Subscribe(ctx context.Context, fn func([]byte)) error {
	ch.c.handleValue(ch.path, fn)
	obj := ch.c.conn.Object(busName, ch.path)
	if err := obj.CallWithContext(ctx, charIface+".StartNotify", 0).Err; err != nil && !isDBusError(err, errInProgress) {
		ch.c.handleValue(ch.path, nil)
		return fmt.Errorf("start notify: %w", err)
	}
	log.Debug().Str("path", string(ch.path)).Msg("notifications enabled")
	return nil
}

func (ch *characteristic) Write(ctx context.Context, p []byte) error {
	obj := ch.c.conn.Object(busName, ch.path)
	return obj.CallWithContext(ctx, charIface+".WriteValue", 0, p, map[string]dbus.Variant{}).Err
}
