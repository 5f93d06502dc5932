package pcm

import "encoding/binary"

// ChannelArea addresses one channel of a host buffer the way ALSA does: a base
// buffer, the bit offset of the first sample and the bit distance between
// consecutive samples. Samples are S16LE.
type ChannelArea struct {
	Addr  []byte
	First uint
	Step  uint
}

// MonoArea describes a flat mono S16LE buffer.
func MonoArea(b []byte) ChannelArea {
	return ChannelArea{Addr: b, First: 0, Step: 16}
}

// InterleavedArea describes channel ch of an interleaved S16LE buffer.
func InterleavedArea(b []byte, ch, channels int) ChannelArea {
	return ChannelArea{Addr: b, First: uint(ch * 16), Step: uint(channels * 16)}
}

// AddressOf returns the byte index of the sample at offset. Sample starts that
// are not byte aligned are a host defect and panic.
func (a ChannelArea) AddressOf(offset int) int {
	bit := a.First + a.Step*uint(offset)
	if bit%8 != 0 {
		panic("pcm: channel area sample is not byte aligned")
	}
	return int(bit / 8)
}

// Run returns a view of frames samples starting at offset.
func (a ChannelArea) Run(offset int) AreaRun {
	if a.Step%8 != 0 {
		panic("pcm: channel area step is not byte aligned")
	}
	return AreaRun{addr: a.Addr, base: a.AddressOf(offset), stride: int(a.Step / 8)}
}

// Frames reports how many whole samples the area holds from offset 0.
func (a ChannelArea) Frames() int {
	if a.Step < 8 {
		return 0
	}
	first := int(a.First / 8)
	if len(a.Addr) < first+2 {
		return 0
	}
	return (len(a.Addr)-first-2)/int(a.Step/8) + 1
}

// AreaRun is a strided sample sequence inside a ChannelArea.
type AreaRun struct {
	addr   []byte
	base   int
	stride int
}

func (r AreaRun) At(i int) int16 {
	off := r.base + i*r.stride
	return int16(binary.LittleEndian.Uint16(r.addr[off : off+2]))
}

func (r AreaRun) Set(i int, v int16) {
	off := r.base + i*r.stride
	binary.LittleEndian.PutUint16(r.addr[off:off+2], uint16(v))
}
