package byteorder

import (
	"debug/elf"
	"encoding/binary"
	"unsafe"
)

var (
	byteOrder binary.ByteOrder
	elfData   elf.Data
)

// In lack of binary.HostEndian ...
func init() {
	byteOrder, elfData = determineHostByteOrder()
}

// Host returns the byte order of the machine we are running on.
func Host() binary.ByteOrder {
	return byteOrder
}

// HostData returns the ELF data encoding matching Host.
func HostData() elf.Data {
	return elfData
}

func determineHostByteOrder() (binary.ByteOrder, elf.Data) {
	var i int32 = 0x01020304
	u := unsafe.Pointer(&i)
	pb := (*byte)(u)
	b := *pb
	if b == 0x04 {
		return binary.LittleEndian, elf.ELFDATA2LSB
	}

	return binary.BigEndian, elf.ELFDATA2MSB
}
