package virtio

import (
	"log/slog"
	"sync"

	"github.com/shady831213/terminus-spaceport/irq"
)

// MMIO register offsets (spec.md 4.5.6). Names follow the VirtIO MMIO
// transport spec; offsets below 0x100 are the transport's own registers,
// offsets at or above 0x100 are the device-specific config area.
const (
	regMagic             = 0x000
	regVersion           = 0x004
	regDeviceID          = 0x008
	regVendorID          = 0x00c
	regDeviceFeatures    = 0x010
	regDeviceFeaturesSel = 0x014
	regDriverFeatures    = 0x020
	regDriverFeaturesSel = 0x024
	regQueueSel          = 0x030
	regQueueNumMax       = 0x034
	regQueueNum          = 0x038
	regQueueReady        = 0x044
	regQueueNotify       = 0x050
	regIntStatus         = 0x060
	regIntAck            = 0x064
	regStatus            = 0x070
	regQueueDescLow      = 0x080
	regQueueDescHigh     = 0x084
	regQueueAvailLow     = 0x090
	regQueueAvailHigh    = 0x094
	regQueueUsedLow      = 0x0a0
	regQueueUsedHigh     = 0x0a4
	regConfig            = 0x100

	mmioMagicValue = 0x74726976 // "virt"
	mmioVersion    = 2
)

// irqUsedBuffer and irqConfigChange are the two bits of a Device's own
// interrupt-status vector (spec.md 4.5.6 IntStatus/IntAck).
const (
	irqUsedBuffer = iota
	irqConfigChange
	deviceIrqCount
)

// Device is a VirtIO transport: a set of split virtqueues, the device's
// own interrupt-status bits, and the MMIO register file spec.md 4.5.6
// specifies bit-exact. It implements mem.IOAccess so it can be published
// into a Space directly via mem.NewIORegion.
type Device struct {
	DeviceID uint32
	VendorID uint32

	Queues []*Queue
	Irqs   *irq.Vec

	mu                sync.Mutex
	queueSel          uint32
	status            uint32
	deviceFeatures    uint32
	deviceFeaturesSel uint32
	driverFeatures    uint32
	driverFeaturesSel uint32
	config            []byte

	usedSender *irq.Sender
	upstream   *irq.Sender
	log        *slog.Logger
}

// NewDevice creates a Device for the given queues, with deviceFeatures as
// the single 32-bit feature word sel==0 of DeviceFeatures returns, and a
// configSize-byte device-specific config area.
func NewDevice(deviceID, vendorID, deviceFeatures uint32, queues []*Queue, configSize int) *Device {
	vec := irq.NewVec(deviceIrqCount)
	for i := 0; i < deviceIrqCount; i++ {
		_ = vec.SetEnable(i, true)
	}
	usedSender, _ := vec.Sender(irqUsedBuffer)
	d := &Device{
		DeviceID:       deviceID,
		VendorID:       vendorID,
		Queues:         queues,
		Irqs:           vec,
		deviceFeatures: deviceFeatures,
		config:         make([]byte, configSize),
		usedSender:     usedSender,
		log:            slog.Default(),
	}
	return d
}

// SetLogger overrides the device's logger (default slog.Default()).
func (d *Device) SetLogger(l *slog.Logger) { d.log = l }

// SetUpstreamIRQ binds the sender this device raises whenever its own
// IntStatus bits become non-empty — typically an irq.Vec bit owned by the
// bus/platform rather than the device itself.
func (d *Device) SetUpstreamIRQ(sender *irq.Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upstream = sender
}

// Config returns the device-specific config area for direct manipulation
// by the concrete device implementation (e.g. virtio-blk capacity,
// virtio-console cols/rows).
func (d *Device) Config() []byte {
	return d.config
}

// NotifyUsedBuffer marks the used-buffer interrupt pending and raises the
// upstream sender, if bound. A QueueClient calls this after Queue.SetUsed
// to signal the driver (spec.md 4.5.5's "signal the device's interrupt").
func (d *Device) NotifyUsedBuffer() error {
	if err := d.usedSender.Send(); err != nil {
		return err
	}
	d.mu.Lock()
	up := d.upstream
	d.mu.Unlock()
	if up != nil {
		return up.Send()
	}
	return nil
}

// Reset implements the MMIO Status=0 reset (spec.md 4.5.6): clears the
// upstream sender, queue_sel, status and device_features_sel, and resets
// every queue.
func (d *Device) Reset() {
	d.mu.Lock()
	up := d.upstream
	d.queueSel = 0
	d.status = 0
	d.deviceFeaturesSel = 0
	d.driverFeaturesSel = 0
	d.mu.Unlock()

	if up != nil {
		_ = up.Clear()
	}
	d.Irqs.ClrPendings(^uint64(0))
	for _, q := range d.Queues {
		q.Reset()
	}
}

// ReadU32 implements the 4-byte register reads of the MMIO transport.
// Reads below the config area at a misaligned address return 0, per
// spec.md 4.5.6.
func (d *Device) ReadU32(addr uint64) (uint32, error) {
	if addr >= regConfig {
		return d.readConfig32(addr - regConfig)
	}
	if addr%4 != 0 {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	switch addr {
	case regMagic:
		return mmioMagicValue, nil
	case regVersion:
		return mmioVersion, nil
	case regDeviceID:
		return d.DeviceID, nil
	case regVendorID:
		return d.VendorID, nil
	case regDeviceFeatures:
		switch d.deviceFeaturesSel {
		case 0:
			return d.deviceFeatures, nil
		case 1:
			return 1, nil
		default:
			return 0, nil
		}
	case regDriverFeatures:
		return d.driverFeatures, nil
	case regDriverFeaturesSel:
		return d.driverFeaturesSel, nil
	case regQueueSel:
		return d.queueSel, nil
	case regQueueNumMax:
		if q := d.lockedSelectedQueue(); q != nil {
			return uint32(q.MaxQueueSize()), nil
		}
		return 0, nil
	case regQueueNum:
		if q := d.lockedSelectedQueue(); q != nil {
			return uint32(q.QueueSize()), nil
		}
		return 0, nil
	case regQueueReady:
		if q := d.lockedSelectedQueue(); q != nil && q.Ready() {
			return 1, nil
		}
		return 0, nil
	case regIntStatus:
		return uint32(d.Irqs.Pendings()), nil
	case regStatus:
		return d.status, nil
	case regQueueDescLow:
		return lowWord(d.lockedSelectedQueue(), (*Queue).DescAddr), nil
	case regQueueDescHigh:
		return highWord(d.lockedSelectedQueue(), (*Queue).DescAddr), nil
	case regQueueAvailLow:
		return lowWord(d.lockedSelectedQueue(), (*Queue).AvailAddr), nil
	case regQueueAvailHigh:
		return highWord(d.lockedSelectedQueue(), (*Queue).AvailAddr), nil
	case regQueueUsedLow:
		return lowWord(d.lockedSelectedQueue(), (*Queue).UsedAddr), nil
	case regQueueUsedHigh:
		return highWord(d.lockedSelectedQueue(), (*Queue).UsedAddr), nil
	default:
		return 0, nil
	}
}

// lockedSelectedQueue is selectedQueue without re-acquiring d.mu — callers
// must already hold it.
func (d *Device) lockedSelectedQueue() *Queue {
	if int(d.queueSel) >= len(d.Queues) {
		return nil
	}
	return d.Queues[d.queueSel]
}

func lowWord(q *Queue, get func(*Queue) uint64) uint32 {
	if q == nil {
		return 0
	}
	return uint32(get(q))
}

func highWord(q *Queue, get func(*Queue) uint64) uint32 {
	if q == nil {
		return 0
	}
	return uint32(get(q) >> 32)
}

// WriteU32 implements the 4-byte register writes of the MMIO transport.
// Writes below the config area at a misaligned address are ignored, per
// spec.md 4.5.6.
func (d *Device) WriteU32(addr uint64, v uint32) error {
	if addr >= regConfig {
		return d.writeConfig32(addr-regConfig, v)
	}
	if addr%4 != 0 {
		return nil
	}
	d.mu.Lock()

	switch addr {
	case regDeviceFeaturesSel:
		d.deviceFeaturesSel = v
	case regDriverFeatures:
		d.driverFeatures = v
	case regDriverFeaturesSel:
		d.driverFeaturesSel = v
	case regQueueSel:
		if int(v) < len(d.Queues) {
			d.queueSel = v
		} else {
			d.log.Warn("virtio: QueueSel out of range", "sel", v, "queues", len(d.Queues))
		}
	case regQueueNum:
		if q := d.lockedSelectedQueue(); q != nil {
			q.SetQueueSize(uint16(v))
		}
	case regQueueReady:
		if q := d.lockedSelectedQueue(); q != nil {
			if v&1 != 0 {
				if err := q.CheckInit(); err != nil {
					d.log.Warn("virtio: QueueReady set but queue fails check_init", "err", err)
				} else {
					q.SetReady(true)
				}
			} else {
				q.SetReady(false)
			}
		}
	case regIntAck:
		d.mu.Unlock()
		d.Irqs.ClrPendings(uint64(v))
		if d.Irqs.Pendings() == 0 {
			d.mu.Lock()
			up := d.upstream
			d.mu.Unlock()
			if up != nil {
				return up.Clear()
			}
		}
		return nil
	case regStatus:
		if v == 0 {
			d.mu.Unlock()
			d.Reset()
			return nil
		}
		d.status = v
	case regQueueDescLow:
		if q := d.lockedSelectedQueue(); q != nil {
			q.SetDescAddrLow(v)
		}
	case regQueueDescHigh:
		if q := d.lockedSelectedQueue(); q != nil {
			q.SetDescAddrHigh(v)
		}
	case regQueueAvailLow:
		if q := d.lockedSelectedQueue(); q != nil {
			q.SetAvailAddrLow(v)
		}
	case regQueueAvailHigh:
		if q := d.lockedSelectedQueue(); q != nil {
			q.SetAvailAddrHigh(v)
		}
	case regQueueUsedLow:
		if q := d.lockedSelectedQueue(); q != nil {
			q.SetUsedAddrLow(v)
		}
	case regQueueUsedHigh:
		if q := d.lockedSelectedQueue(); q != nil {
			q.SetUsedAddrHigh(v)
		}
	case regQueueNotify:
		d.mu.Unlock()
		if int(v) < len(d.Queues) {
			if err := d.Queues[v].NotifyClient(); err != nil {
				d.log.Warn("virtio: notify_client failed", "queue", v, "err", err)
			}
		}
		return nil
	}
	d.mu.Unlock()
	return nil
}

func (d *Device) readConfig32(off uint64) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off+4 > uint64(len(d.config)) {
		return 0, nil
	}
	return leU32(d.config[off : off+4]), nil
}

func (d *Device) writeConfig32(off uint64, v uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off+4 > uint64(len(d.config)) {
		return nil
	}
	putLeU32(d.config[off:off+4], v)
	return nil
}

// ReadU8/WriteU8, ReadU16/WriteU16 and ReadU64/WriteU64 only serve the
// config area: below it, accesses other than 32-bit read 0 / ignore
// writes per spec.md 4.5.6.

func (d *Device) ReadU8(addr uint64) (uint8, error) {
	if addr < regConfig {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := addr - regConfig
	if off >= uint64(len(d.config)) {
		return 0, nil
	}
	return d.config[off], nil
}

func (d *Device) WriteU8(addr uint64, v uint8) error {
	if addr < regConfig {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := addr - regConfig
	if off >= uint64(len(d.config)) {
		return nil
	}
	d.config[off] = v
	return nil
}

func (d *Device) ReadU16(addr uint64) (uint16, error) {
	if addr < regConfig {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := addr - regConfig
	if off+2 > uint64(len(d.config)) {
		return 0, nil
	}
	return leU16(d.config[off : off+2]), nil
}

func (d *Device) WriteU16(addr uint64, v uint16) error {
	if addr < regConfig {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := addr - regConfig
	if off+2 > uint64(len(d.config)) {
		return nil
	}
	putLeU16(d.config[off:off+2], v)
	return nil
}

func (d *Device) ReadU64(addr uint64) (uint64, error) {
	if addr < regConfig {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := addr - regConfig
	if off+8 > uint64(len(d.config)) {
		return 0, nil
	}
	lo := leU32(d.config[off : off+4])
	hi := leU32(d.config[off+4 : off+8])
	return uint64(lo) | uint64(hi)<<32, nil
}

func (d *Device) WriteU64(addr uint64, v uint64) error {
	if addr < regConfig {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := addr - regConfig
	if off+8 > uint64(len(d.config)) {
		return nil
	}
	putLeU32(d.config[off:off+4], uint32(v))
	putLeU32(d.config[off+4:off+8], uint32(v>>32))
	return nil
}

// ReadBytes/WriteBytes serve only the config area, copying raw bytes with
// no width or alignment constraint (spec.md 4.1.1's byte accessor).
func (d *Device) ReadBytes(addr uint64, data []byte) error {
	if addr < regConfig {
		for i := range data {
			data[i] = 0
		}
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := addr - regConfig
	for i := range data {
		if off+uint64(i) >= uint64(len(d.config)) {
			data[i] = 0
			continue
		}
		data[i] = d.config[off+uint64(i)]
	}
	return nil
}

func (d *Device) WriteBytes(addr uint64, data []byte) error {
	if addr < regConfig {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := addr - regConfig
	for i, b := range data {
		if off+uint64(i) >= uint64(len(d.config)) {
			continue
		}
		d.config[off+uint64(i)] = b
	}
	return nil
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
