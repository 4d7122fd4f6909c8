package dwmmc

import (
	"sync/atomic"
	"unsafe"
)

// Bus gives typed access to the controller's register block. Each call is a
// single access of the given width; implementations must not split, merge or
// reorder them.
type Bus interface {
	Load32(r Reg) uint32
	Store32(r Reg, v uint32)
	Load8(r Reg) uint8
	Store8(r Reg, v uint8)
}

// MMIO is a Bus for a register block mapped at a fixed virtual address.
type MMIO uintptr

// base is a device address outside the Go heap.
func (m MMIO) base() unsafe.Pointer {
	return unsafe.Pointer(uintptr(m))
}

func (m MMIO) ptr32(r Reg) *uint32 {
	return (*uint32)(unsafe.Add(m.base(), r))
}

func (m MMIO) ptr8(r Reg) *uint8 {
	return (*uint8)(unsafe.Add(m.base(), r))
}

func (m MMIO) Load32(r Reg) uint32 {
	return atomic.LoadUint32(m.ptr32(r))
}

func (m MMIO) Store32(r Reg, v uint32) {
	atomic.StoreUint32(m.ptr32(r), v)
}

//go:noinline
func (m MMIO) Load8(r Reg) uint8 {
	return *m.ptr8(r)
}

//go:noinline
func (m MMIO) Store8(r Reg, v uint8) {
	*m.ptr8(r) = v
}
