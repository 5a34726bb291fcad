package tinygo

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

// The adapter accumulates discovered GATT elements: a later, filtered
// discovery adds to the snapshot rather than replacing it.

func (a *Adapter) DiscoverServices(id ble.Identity, filter []gatt.UUID) error {
	p, device, err := a.connected(id)
	if err != nil {
		return err
	}
	bf, err := toBT(filter)
	if err != nil {
		return err
	}
	go func() {
		found, err := device.DiscoverServices(bf)
		if err != nil {
			a.emitTo(id, ble.ServicesDiscovered{ID: id, Err: fmt.Errorf("tinygo: discover services: %w", err)})
			return
		}
		a.mu.Lock()
		if p.services == nil {
			p.services = []gatt.Service{}
		}
		for _, s := range found {
			u := fromBT(s.UUID())
			p.svcs[u] = s
			if indexService(p.services, u) < 0 {
				p.services = append(p.services, gatt.Service{UUID: u, IsPrimary: true})
			}
		}
		a.mu.Unlock()
		a.emitTo(id, ble.ServicesDiscovered{ID: id})
	}()
	return nil
}

// DiscoverIncludedServices completes with no included services; tinygo
// does not expose them.
func (a *Adapter) DiscoverIncludedServices(id ble.Identity, service gatt.ServiceRef, _ []gatt.UUID) error {
	p, _, err := a.connected(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	if i := indexService(p.services, service.Service); i >= 0 && p.services[i].IncludedServices == nil {
		p.services[i].IncludedServices = []gatt.Service{}
	}
	a.mu.Unlock()
	go a.emitTo(id, ble.IncludedServicesDiscovered{ID: id, Service: service})
	return nil
}

func (a *Adapter) DiscoverCharacteristics(id ble.Identity, service gatt.ServiceRef, filter []gatt.UUID) error {
	p, _, err := a.connected(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	handle, ok := p.svcs[service.Service]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("tinygo: service %s not discovered", service)
	}
	bf, err := toBT(filter)
	if err != nil {
		return err
	}
	go func() {
		found, err := handle.DiscoverCharacteristics(bf)
		if err != nil {
			a.emitTo(id, ble.CharacteristicsDiscovered{ID: id, Service: service, Err: fmt.Errorf("tinygo: discover characteristics: %w", err)})
			return
		}
		a.mu.Lock()
		if i := indexService(p.services, service.Service); i >= 0 {
			svc := &p.services[i]
			if svc.Characteristics == nil {
				svc.Characteristics = []gatt.Characteristic{}
			}
			for _, c := range found {
				u := fromBT(c.UUID())
				p.chars[gatt.CharacteristicRef{Service: service.Service, Characteristic: u}] = c
				if indexCharacteristic(svc.Characteristics, u) < 0 {
					svc.Characteristics = append(svc.Characteristics, gatt.Characteristic{UUID: u})
				}
			}
		}
		a.mu.Unlock()
		a.emitTo(id, ble.CharacteristicsDiscovered{ID: id, Service: service})
	}()
	return nil
}

// DiscoverDescriptors completes with an empty descriptor list.
func (a *Adapter) DiscoverDescriptors(id ble.Identity, characteristic gatt.CharacteristicRef) error {
	p, _, err := a.connected(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	if c := characteristicLocked(p, characteristic); c != nil && c.Descriptors == nil {
		c.Descriptors = []gatt.Descriptor{}
	}
	a.mu.Unlock()
	go a.emitTo(id, ble.DescriptorsDiscovered{ID: id, Characteristic: characteristic})
	return nil
}

// ReadRSSI reports the RSSI of the last advertisement seen.
func (a *Adapter) ReadRSSI(id ble.Identity) error {
	a.mu.Lock()
	p, ok := a.periphs[id]
	var rssi *int
	if ok {
		rssi = p.rssi
	}
	a.mu.Unlock()
	if rssi == nil {
		go a.emitTo(id, ble.RSSIRead{ID: id, Err: ErrUnsupported})
		return nil
	}
	v := *rssi
	go a.emitTo(id, ble.RSSIRead{ID: id, RSSI: v})
	return nil
}

func (a *Adapter) handle(id ble.Identity, target gatt.AttributeRef) (*peripheral, bluetooth.DeviceCharacteristic, error) {
	ref, ok := target.(gatt.CharacteristicRef)
	if !ok {
		return nil, bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: descriptor access", ErrUnsupported)
	}
	p, _, err := a.connected(id)
	if err != nil {
		return nil, bluetooth.DeviceCharacteristic{}, err
	}
	a.mu.Lock()
	c, ok := p.chars[ref]
	a.mu.Unlock()
	if !ok {
		return nil, bluetooth.DeviceCharacteristic{}, fmt.Errorf("tinygo: characteristic %s not discovered", ref)
	}
	return p, c, nil
}

func (a *Adapter) ReadValue(id ble.Identity, target gatt.AttributeRef) error {
	p, c, err := a.handle(id, target)
	if err != nil {
		return err
	}
	ref := target.(gatt.CharacteristicRef)
	go func() {
		buf := make([]byte, readBufferSize)
		n, err := c.Read(buf)
		if err != nil {
			a.emitTo(id, ble.ValueUpdated{ID: id, Target: target, Err: fmt.Errorf("tinygo: read %s: %w", ref, err)})
			return
		}
		value := buf[:n]
		a.storeValue(p, ref, value)
		a.emitTo(id, ble.ValueUpdated{ID: id, Target: target, Value: value})
	}()
	return nil
}

// WriteValue fails synchronously for acknowledged writes on platforms whose
// backend cannot perform them.
func (a *Adapter) WriteValue(id ble.Identity, target gatt.AttributeRef, data []byte, mode ble.WriteMode) error {
	if mode == ble.WithResponse && !ackWrites {
		return fmt.Errorf("%w: acknowledged write", ErrUnsupported)
	}
	_, c, err := a.handle(id, target)
	if err != nil {
		return err
	}
	data = append([]byte(nil), data...)
	go func() {
		var err error
		if mode == ble.WithoutResponse {
			_, err = c.WriteWithoutResponse(data)
		} else {
			err = writeWithResponse(c, data)
		}
		if err != nil {
			err = fmt.Errorf("tinygo: write %s: %w", target, err)
		}
		a.emitTo(id, ble.ValueWritten{ID: id, Target: target, Err: err})
	}()
	return nil
}

func (a *Adapter) SetNotify(id ble.Identity, characteristic gatt.CharacteristicRef, enabled bool) error {
	p, c, err := a.handle(id, characteristic)
	if err != nil {
		return err
	}
	go func() {
		var cb func([]byte)
		if enabled {
			cb = func(buf []byte) {
				value := append([]byte(nil), buf...)
				a.storeValue(p, characteristic, value)
				a.emitTo(id, ble.ValueUpdated{ID: id, Target: characteristic, Value: value})
			}
		}
		if err := c.EnableNotifications(cb); err != nil {
			a.emitTo(id, ble.NotificationStateChanged{ID: id, Characteristic: characteristic, Err: fmt.Errorf("tinygo: notify %s: %w", characteristic, err)})
			return
		}
		a.mu.Lock()
		if ch := characteristicLocked(p, characteristic); ch != nil {
			ch.IsNotifying = enabled
		}
		a.mu.Unlock()
		a.emitTo(id, ble.NotificationStateChanged{ID: id, Characteristic: characteristic, Enabled: enabled})
	}()
	return nil
}

func (a *Adapter) storeValue(p *peripheral, ref gatt.CharacteristicRef, value []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c := characteristicLocked(p, ref); c != nil {
		c.Value = append([]byte(nil), value...)
	}
}

func characteristicLocked(p *peripheral, ref gatt.CharacteristicRef) *gatt.Characteristic {
	return gatt.Tree{Services: p.services}.Characteristic(ref)
}

func indexService(ss []gatt.Service, u gatt.UUID) int {
	for i := range ss {
		if ss[i].UUID == u {
			return i
		}
	}
	return -1
}

func indexCharacteristic(cs []gatt.Characteristic, u gatt.UUID) int {
	for i := range cs {
		if cs[i].UUID == u {
			return i
		}
	}
	return -1
}
