//go:build windows

package waveout

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/dougsko/audiohook/pkg/format"
	"golang.org/x/sys/windows"
)

const (
	waveMapper       = 0xFFFFFFFF
	callbackFunction = 0x00030000
	womDone          = 0x3BD
	mmsyserrNoError  = 0
)

var (
	winmm = windows.NewLazySystemDLL("winmm.dll")

	procWaveOutOpen            = winmm.NewProc("waveOutOpen")
	procWaveOutClose           = winmm.NewProc("waveOutClose")
	procWaveOutPrepareHeader   = winmm.NewProc("waveOutPrepareHeader")
	procWaveOutUnprepareHeader = winmm.NewProc("waveOutUnprepareHeader")
	procWaveOutWrite           = winmm.NewProc("waveOutWrite")
	procWaveOutReset           = winmm.NewProc("waveOutReset")
	procWaveOutGetErrorText    = winmm.NewProc("waveOutGetErrorTextW")
)

type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	Size           uint16
}

type waveHdr struct {
	Data          uintptr
	BufferLength  uint32
	BytesRecorded uint32
	User          uintptr
	Flags         uint32
	Loops         uint32
	Next          uintptr
	Reserved      uintptr
}

// WinMMDevice plays headers through waveOut
type WinMMDevice struct {
	mu      sync.Mutex
	handle  uintptr
	done    func(*Header)
	headers map[uintptr]*Header
	pinned  map[*Header]*waveHdr
}

var (
	callbackOnce sync.Once
	callbackPtr  uintptr

	devicesMu sync.Mutex
	devices   = map[uintptr]*WinMMDevice{}
	nextID    uintptr
)

// NewPlatformDevice returns the waveform device for this platform
func NewPlatformDevice() Device {
	return &WinMMDevice{
		headers: make(map[uintptr]*Header),
		pinned:  make(map[*Header]*waveHdr),
	}
}

func waveOutProc(hwo, msg, instance, param1, param2 uintptr) uintptr {
	if msg != womDone {
		return 0
	}
	devicesMu.Lock()
	d := devices[instance]
	devicesMu.Unlock()
	if d == nil {
		return 0
	}

	d.mu.Lock()
	h := d.headers[param1]
	done := d.done
	d.mu.Unlock()
	if h != nil && done != nil {
		done(h)
	}
	return 0
}

func mmError(op string, code uintptr) error {
	buf := make([]uint16, 256)
	procWaveOutGetErrorText.Call(code, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return fmt.Errorf("%s failed: %s (%d)", op, windows.UTF16ToString(buf), code)
}

func (d *WinMMDevice) Open(f format.StreamFormat, done func(*Header)) error {
	callbackOnce.Do(func() {
		callbackPtr = windows.NewCallback(waveOutProc)
	})

	wfx := waveFormatEx{
		FormatTag:      format.TagPCM,
		Channels:       uint16(f.Channels),
		SamplesPerSec:  uint32(f.SampleRate),
		AvgBytesPerSec: uint32(f.AvgBytesPerSec),
		BlockAlign:     uint16(f.BlockAlign),
		BitsPerSample:  uint16(f.BitsPerSample),
	}
	if f.IsFloat() {
		wfx.FormatTag = format.TagIEEEFloat
	}

	devicesMu.Lock()
	nextID++
	id := nextID
	devices[id] = d
	devicesMu.Unlock()

	d.mu.Lock()
	d.done = done
	d.mu.Unlock()

	r, _, _ := procWaveOutOpen.Call(
		uintptr(unsafe.Pointer(&d.handle)),
		waveMapper,
		uintptr(unsafe.Pointer(&wfx)),
		callbackPtr,
		id,
		callbackFunction,
	)
	if r != mmsyserrNoError {
		devicesMu.Lock()
		delete(devices, id)
		devicesMu.Unlock()
		return mmError("waveOutOpen", r)
	}
	return nil
}

func (d *WinMMDevice) Prepare(h *Header) error {
	hdr := &waveHdr{
		Data:         uintptr(unsafe.Pointer(&h.Data[0])),
		BufferLength: uint32(len(h.Data)),
	}
	r, _, _ := procWaveOutPrepareHeader.Call(d.handle, uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
	if r != mmsyserrNoError {
		return mmError("waveOutPrepareHeader", r)
	}

	d.mu.Lock()
	d.headers[uintptr(unsafe.Pointer(hdr))] = h
	d.pinned[h] = hdr
	d.mu.Unlock()
	h.SetSys(hdr)
	return nil
}

func (d *WinMMDevice) Write(h *Header) error {
	hdr, ok := h.Sys().(*waveHdr)
	if !ok {
		return fmt.Errorf("header not prepared")
	}
	hdr.BufferLength = uint32(h.Length)
	r, _, _ := procWaveOutWrite.Call(d.handle, uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
	if r != mmsyserrNoError {
		return mmError("waveOutWrite", r)
	}
	return nil
}

func (d *WinMMDevice) Unprepare(h *Header) error {
	hdr, ok := h.Sys().(*waveHdr)
	if !ok {
		return nil
	}
	r, _, _ := procWaveOutUnprepareHeader.Call(d.handle, uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))

	d.mu.Lock()
	delete(d.headers, uintptr(unsafe.Pointer(hdr)))
	delete(d.pinned, h)
	d.mu.Unlock()
	h.SetSys(nil)

	if r != mmsyserrNoError {
		return mmError("waveOutUnprepareHeader", r)
	}
	return nil
}

func (d *WinMMDevice) Reset() error {
	r, _, _ := procWaveOutReset.Call(d.handle)
	if r != mmsyserrNoError {
		return mmError("waveOutReset", r)
	}
	return nil
}

func (d *WinMMDevice) Close() error {
	r, _, _ := procWaveOutClose.Call(d.handle)

	devicesMu.Lock()
	for id, dev := range devices {
		if dev == d {
			delete(devices, id)
		}
	}
	devicesMu.Unlock()

	if r != mmsyserrNoError {
		return mmError("waveOutClose", r)
	}
	return nil
}
