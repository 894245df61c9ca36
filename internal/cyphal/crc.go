package cyphal

// CRC16 computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF, no reflection,
// no final xor) as used for multi-frame transfers.
func CRC16(data []byte) uint16 {
	return CRC16Add(0xFFFF, data)
}

// CRC16Add continues a CRC over more data.
func CRC16Add(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Checksum returns the CRC of payload in wire order (big-endian).
func Checksum(payload []byte) [CRCSize]byte {
	crc := CRC16(payload)
	return [CRCSize]byte{byte(crc >> 8), byte(crc)}
}

// ValidChecksum reports whether the last CRCSize bytes of data are the
// checksum of the bytes before them.
func ValidChecksum(data []byte) bool {
	if len(data) < CRCSize {
		return false
	}
	body := data[:len(data)-CRCSize]
	return Checksum(body) == [CRCSize]byte{data[len(data)-2], data[len(data)-1]}
}
