package frame

import "encoding/binary"

// CRC-32 parameters mandated by the robot firmware: polynomial 0x04C11DB7,
// initial value 0xFFFFFFFF, MSB-first, no final XOR. Computed over 32-bit
// words, not bytes, so frames must be word-aligned.
const crcPolynomial = 0x04C11DB7

// Checksum computes the firmware CRC-32 over the given words.
func Checksum(words []uint32) uint32 {
	crc := uint32(0xFFFFFFFF)

	for _, data := range words {
		xbit := uint32(1) << 31
		for bit := 0; bit < 32; bit++ {
			if crc&0x80000000 != 0 {
				crc <<= 1
				crc ^= crcPolynomial
			} else {
				crc <<= 1
			}

			if data&xbit != 0 {
				crc ^= crcPolynomial
			}
			xbit >>= 1
		}
	}

	return crc
}

// checksumBytes computes the frame checksum over every 32-bit word of buf
// except the trailing checksum word itself. len(buf) must be a multiple of 4.
func checksumBytes(buf []byte) uint32 {
	words := make([]uint32, 0, len(buf)/4-1)
	for i := 0; i+4 < len(buf); i += 4 {
		words = append(words, binary.LittleEndian.Uint32(buf[i:i+4]))
	}

	return Checksum(words)
}
