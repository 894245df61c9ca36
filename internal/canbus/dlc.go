package canbus

// CAN-FD data length codes. Lengths above 8 are quantised.

var dlcToLen = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// ValidLength reports whether n is a length a CAN-FD frame can carry.
func ValidLength(n int) bool {
	return n >= 0 && n <= CANFDMaxData && RoundUpLength(n) == n
}

// RoundUpLength returns the smallest valid CAN-FD length >= n, or -1 if n is
// larger than the maximum payload.
func RoundUpLength(n int) int {
	for _, l := range dlcToLen {
		if l >= n {
			return l
		}
	}
	return -1
}

// DLCToLength converts a 4-bit DLC to a byte count.
func DLCToLength(dlc uint8) int {
	return dlcToLen[dlc&0x0F]
}

// LengthToDLC converts a valid length to its DLC. Invalid lengths map to the
// DLC of the next larger valid length.
func LengthToDLC(n int) uint8 {
	for i, l := range dlcToLen {
		if l >= n {
			return uint8(i)
		}
	}
	return 15
}
