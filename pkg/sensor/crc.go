package sensor

const (
	crc8Polynomial = 0x31
	crc8Init       = 0xFF
)

// CRC8 computes the Sensirion word checksum: polynomial 0x31 (x^8+x^5+x^4+1),
// initial value 0xFF, no reflection, no final XOR.
func CRC8(data []byte) uint8 {
	crc := uint8(crc8Init)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crc8Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
